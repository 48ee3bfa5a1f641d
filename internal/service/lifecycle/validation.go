package lifecycle

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

// ProductInput — товарная позиция при оформлении заказа. Цена берётся из каталога
// на момент оформления и дальше не меняется.
type ProductInput struct {
	PackageID string `json:"package_id" validate:"required"`
	Quantity  int32  `json:"quantity" validate:"gt=0"`
	UnitPrice int64  `json:"unit_price" validate:"gte=0"`
}

// AddonInput — позиция аддона при оформлении заказа.
type AddonInput struct {
	AddonID   string `json:"addon_id" validate:"required"`
	Quantity  int32  `json:"quantity" validate:"gt=0"`
	UnitPrice int64  `json:"unit_price" validate:"gte=0"`
}

// WhatsappInput — WhatsApp-подписка при оформлении заказа.
type WhatsappInput struct {
	PackageID string          `json:"package_id" validate:"required"`
	Duration  domain.Duration `json:"duration" validate:"oneof=month year"`
	Price     int64           `json:"price" validate:"gte=0"`
}

// CreateTransactionInput — данные checkout. DiscountAmount уже посчитан по ваучеру.
type CreateTransactionInput struct {
	UserID         string          `json:"user_id" validate:"required"`
	Currency       domain.Currency `json:"currency" validate:"oneof=idr usd"`
	VoucherID      string          `json:"voucher_id,omitempty"`
	DiscountAmount int64           `json:"discount_amount" validate:"gte=0"`
	Products       []ProductInput  `json:"products,omitempty" validate:"dive"`
	Addons         []AddonInput    `json:"addons,omitempty" validate:"dive"`
	Whatsapp       *WhatsappInput  `json:"whatsapp,omitempty"`
}

// CreatePaymentInput — данные создания платежа. ServiceFee уже посчитан для метода.
type CreatePaymentInput struct {
	TransactionID string `json:"transaction_id" validate:"required"`
	Method        string `json:"method" validate:"required"`
	ServiceFee    int64  `json:"service_fee" validate:"gte=0"`
	ExternalID    string `json:"external_id,omitempty"`
	PaymentURL    string `json:"payment_url,omitempty"`
}

var fieldErrors = map[string]error{
	"UserID":         domain.ErrUserRequired,
	"Currency":       domain.ErrCurrencyInvalid,
	"DiscountAmount": domain.ErrAmountNegative,
	"PackageID":      domain.ErrLineRefRequired,
	"AddonID":        domain.ErrLineRefRequired,
	"Quantity":       domain.ErrLineQtyInvalid,
	"UnitPrice":      domain.ErrLinePriceInvalid,
	"Price":          domain.ErrLinePriceInvalid,
	"Duration":       domain.ErrDurationInvalid,
	"TransactionID":  domain.ErrTransactionIDRequired,
	"Method":         domain.ErrPaymentMethodRequired,
	"ServiceFee":     domain.ErrAmountNegative,
}

// validateInput прогоняет struct-теги и переводит первую ошибку поля в доменную.
func (e *Engine) validateInput(in any) error {
	err := e.validate.Struct(in)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	fe := verrs[0]
	target, ok := fieldErrors[fe.StructField()]
	if !ok {
		target = domain.ErrInvalidInput
	}
	return fmt.Errorf("%w: %s failed on %q", target, fe.Namespace(), fe.Tag())
}
