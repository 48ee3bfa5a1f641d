package domain_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

// helper для создания транзакции со всеми видами позиций.
func makeTransaction() domain.Transaction {
	now := time.Now().UTC()
	trx := domain.Transaction{
		ID:       "trx-1",
		UserID:   "user-1",
		Status:   domain.TransactionStatusCreated,
		Currency: domain.CurrencyIDR,
		Products: []domain.ProductLine{
			{ID: "p-1", TransactionID: "trx-1", PackageID: "web-basic", Quantity: 1, UnitPrice: 500, Status: domain.LineStatusPending},
		},
		Addons: []domain.AddonLine{
			{ID: "a-1", TransactionID: "trx-1", AddonID: "domain", Quantity: 2, UnitPrice: 50, Status: domain.LineStatusPending},
		},
		Whatsapp: &domain.WhatsappLine{
			ID: "w-1", TransactionID: "trx-1", PackageID: "wa-pro", Duration: domain.DurationMonth, Price: 200, Status: domain.LineStatusPending,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	total, err := domain.LinesTotal(trx.Products, trx.Addons, trx.Whatsapp)
	if err != nil {
		panic(err)
	}
	trx.OriginalAmount = total
	trx.DiscountAmount = 100
	trx.TotalAfterDiscount = trx.OriginalAmount - trx.DiscountAmount
	trx.FinalAmount = trx.TotalAfterDiscount
	return trx
}

func TestTransactionValidateInvariants_Ok(t *testing.T) {
	trx := makeTransaction()
	if errs := trx.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}
	if trx.OriginalAmount != 800 {
		t.Fatalf("expected original amount 800, got %d", trx.OriginalAmount)
	}
}

func TestTransactionValidateInvariants_Errors(t *testing.T) {
	cases := []struct {
		name string
		mut  func(t *domain.Transaction)
		want error
	}{
		{
			name: "no user",
			mut:  func(t *domain.Transaction) { t.UserID = "" },
			want: domain.ErrUserRequired,
		},
		{
			name: "bad currency",
			mut:  func(t *domain.Transaction) { t.Currency = "eur" },
			want: domain.ErrCurrencyInvalid,
		},
		{
			name: "no lines",
			mut: func(t *domain.Transaction) {
				t.Products, t.Addons, t.Whatsapp = nil, nil, nil
			},
			want: domain.ErrLinesRequired,
		},
		{
			name: "discount exceeds total",
			mut: func(t *domain.Transaction) {
				t.DiscountAmount = t.OriginalAmount + 1
				t.TotalAfterDiscount = t.OriginalAmount - t.DiscountAmount
				t.FinalAmount = t.TotalAfterDiscount
			},
			want: domain.ErrDiscountExceedsTotal,
		},
		{
			name: "final mismatch",
			mut:  func(t *domain.Transaction) { t.FinalAmount++ },
			want: domain.ErrAmountMismatch,
		},
		{
			name: "invalid duration",
			mut:  func(t *domain.Transaction) { t.Whatsapp.Duration = "week" },
			want: domain.ErrDurationInvalid,
		},
		{
			name: "zero quantity",
			mut:  func(t *domain.Transaction) { t.Products[0].Quantity = 0 },
			want: domain.ErrLineQtyInvalid,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			trx := makeTransaction()
			tc.mut(&trx)
			errs := trx.ValidateInvariants()
			found := false
			for _, err := range errs {
				if errors.Is(err, tc.want) {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected %v among %v", tc.want, errs)
			}
		})
	}
}

func TestTransactionApplyServiceFee(t *testing.T) {
	trx := makeTransaction()
	if err := trx.ApplyServiceFee(25); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if trx.FinalAmount != trx.TotalAfterDiscount+25 {
		t.Fatalf("final amount %d does not include fee", trx.FinalAmount)
	}
	if err := trx.ApplyServiceFee(-1); !errors.Is(err, domain.ErrAmountNegative) {
		t.Fatalf("expected ErrAmountNegative, got %v", err)
	}
}

func TestLinesTotal_Overflow(t *testing.T) {
	tests := []struct {
		name     string
		products []domain.ProductLine
		addons   []domain.AddonLine
		whatsapp *domain.WhatsappLine
	}{
		{
			name:     "quantity times price",
			products: []domain.ProductLine{{PackageID: "web-basic", Quantity: 3, UnitPrice: 6148914691236517206}},
		},
		{
			name:   "sum of addons",
			addons: []domain.AddonLine{{AddonID: "ssl", Quantity: 1, UnitPrice: math.MaxInt64}, {AddonID: "domain", Quantity: 1, UnitPrice: 1}},
		},
		{
			name:     "whatsapp on top of products",
			products: []domain.ProductLine{{PackageID: "web-basic", Quantity: 1, UnitPrice: math.MaxInt64}},
			whatsapp: &domain.WhatsappLine{PackageID: "wa-pro", Duration: domain.DurationMonth, Price: 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := domain.LinesTotal(tt.products, tt.addons, tt.whatsapp); !errors.Is(err, domain.ErrAmountOverflow) {
				t.Fatalf("expected ErrAmountOverflow, got %v", err)
			}
		})
	}

	total, err := domain.LinesTotal(
		[]domain.ProductLine{{PackageID: "web-basic", Quantity: 1, UnitPrice: math.MaxInt64 - 1}},
		nil,
		&domain.WhatsappLine{PackageID: "wa-pro", Price: 1},
	)
	if err != nil || total != math.MaxInt64 {
		t.Fatalf("expected exact MaxInt64 total, got %d (%v)", total, err)
	}
}

func TestTransactionApplyServiceFee_Overflow(t *testing.T) {
	trx := makeTransaction()
	trx.TotalAfterDiscount = math.MaxInt64
	if err := trx.ApplyServiceFee(1); !errors.Is(err, domain.ErrAmountOverflow) {
		t.Fatalf("expected ErrAmountOverflow, got %v", err)
	}
	if trx.ServiceFeeAmount != 0 {
		t.Fatalf("service fee must stay untouched, got %d", trx.ServiceFeeAmount)
	}
}

func TestTransactionLinesAndType(t *testing.T) {
	trx := makeTransaction()

	lines := trx.Lines()
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	kinds := map[domain.LineKind]int{}
	for _, l := range lines {
		kinds[l.Kind()]++
	}
	if kinds[domain.LineKindProduct] != 1 || kinds[domain.LineKindAddon] != 1 || kinds[domain.LineKindWhatsapp] != 1 {
		t.Fatalf("unexpected kinds: %v", kinds)
	}
	if trx.Type() != domain.TransactionTypeBundle {
		t.Fatalf("expected bundle, got %s", trx.Type())
	}

	trx.Whatsapp = nil
	if trx.Type() != domain.TransactionTypeProductAddon {
		t.Fatalf("expected product_addon, got %s", trx.Type())
	}
}

func TestTransactionStatusTerminal(t *testing.T) {
	terminal := map[domain.TransactionStatus]bool{
		domain.TransactionStatusCreated:    false,
		domain.TransactionStatusPending:    false,
		domain.TransactionStatusInProgress: false,
		domain.TransactionStatusSuccess:    true,
		domain.TransactionStatusCancelled:  true,
		domain.TransactionStatusExpired:    true,
	}
	for status, want := range terminal {
		if status.Terminal() != want {
			t.Errorf("%s terminal=%v, want %v", status, status.Terminal(), want)
		}
	}
}
