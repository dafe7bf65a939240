package service

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/vaidashi/order-processing-api/internal/models"
	apperrors "github.com/vaidashi/order-processing-api/pkg/errors"
)

// validateNewOrder collects every problem with a create request so the
// caller can report them together. Field keys match the JSON request body.
func validateNewOrder(customerID, customerName string, items []ItemInput) error {
	fields := map[string]string{}

	checkText(fields, "customerId", customerID, models.MaxCustomerIDLength)
	checkText(fields, "customerName", customerName, models.MaxNameLength)

	if len(items) == 0 {
		fields["items"] = "must contain at least one item"
	}

	total := decimal.Zero
	totalKnown := true

	for i, item := range items {
		prefix := fmt.Sprintf("items[%d].", i)

		checkText(fields, prefix+"productName", item.ProductName, models.MaxNameLength)

		priceOK := false
		switch {
		case item.Price.IsNegative():
			fields[prefix+"price"] = "must not be negative"
		case !item.Price.Equal(item.Price.Round(2)):
			fields[prefix+"price"] = "must have at most 2 decimal places"
		case item.Price.GreaterThan(models.MaxAmount):
			fields[prefix+"price"] = "must not exceed " + models.MaxAmount.String()
		default:
			priceOK = true
		}

		quantityOK := false
		switch {
		case item.Quantity <= 0:
			fields[prefix+"quantity"] = "must be greater than zero"
		case item.Quantity > models.MaxQuantity:
			fields[prefix+"quantity"] = fmt.Sprintf("must not exceed %d", models.MaxQuantity)
		default:
			quantityOK = true
		}

		if !priceOK || !quantityOK {
			totalKnown = false
			continue
		}

		line := models.LineTotal(item.Price, item.Quantity)

		if line.GreaterThan(models.MaxAmount) {
			fields[prefix+"total"] = "price * quantity must not exceed " + models.MaxAmount.String()
			totalKnown = false
			continue
		}

		total = total.Add(line)
	}

	if totalKnown && total.GreaterThan(models.MaxAmount) {
		fields["totalAmount"] = "order total must not exceed " + models.MaxAmount.String()
	}

	if len(fields) == 0 {
		return nil
	}

	return apperrors.NewValidationError("invalid order request").WithContext("fields", fields)
}

// checkText requires a non-blank value that fits its column
func checkText(fields map[string]string, key, value string, maxLen int) {
	trimmed := strings.TrimSpace(value)

	switch {
	case trimmed == "":
		fields[key] = "is required"
	case utf8.RuneCountInString(trimmed) > maxLen:
		fields[key] = fmt.Sprintf("must be at most %d characters", maxLen)
	}
}
