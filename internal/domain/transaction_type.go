package domain

// TransactionType — производное представление состава заказа.
type TransactionType string

const (
	TransactionTypeEmpty           TransactionType = "empty"
	TransactionTypeProduct         TransactionType = "product"
	TransactionTypeAddon           TransactionType = "addon"
	TransactionTypeWhatsapp        TransactionType = "whatsapp"
	TransactionTypeProductAddon    TransactionType = "product_addon"
	TransactionTypeProductWhatsapp TransactionType = "product_whatsapp"
	TransactionTypeAddonWhatsapp   TransactionType = "addon_whatsapp"
	TransactionTypeBundle          TransactionType = "bundle"
)

type lineMix struct {
	product, addon, whatsapp bool
}

var transactionTypes = map[lineMix]TransactionType{
	{false, false, false}: TransactionTypeEmpty,
	{true, false, false}:  TransactionTypeProduct,
	{false, true, false}:  TransactionTypeAddon,
	{false, false, true}:  TransactionTypeWhatsapp,
	{true, true, false}:   TransactionTypeProductAddon,
	{true, false, true}:   TransactionTypeProductWhatsapp,
	{false, true, true}:   TransactionTypeAddonWhatsapp,
	{true, true, true}:    TransactionTypeBundle,
}

// ResolveTransactionType определяет тип по наличию позиций каждого вида.
func ResolveTransactionType(hasProduct, hasAddon, hasWhatsapp bool) TransactionType {
	return transactionTypes[lineMix{hasProduct, hasAddon, hasWhatsapp}]
}
