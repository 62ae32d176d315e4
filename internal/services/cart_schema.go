package services

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/ddreams3d/storefront/internal/domain"
)

var (
	errCartSchema = errors.New("persisted cart does not match schema")

	cartValidator = validator.New()
)

// decodePersistedCart parses and validates a persisted cart record. Any deviation from the
// expected layout is an error; the caller discards the record instead of repairing it.
func decodePersistedCart(raw string) (domain.Cart, error) {
	decoder := json.NewDecoder(bytes.NewReader([]byte(raw)))
	decoder.DisallowUnknownFields()

	var cart domain.Cart
	if err := decoder.Decode(&cart); err != nil {
		return domain.Cart{}, fmt.Errorf("%w: %v", errCartSchema, err)
	}
	if decoder.More() {
		return domain.Cart{}, fmt.Errorf("%w: trailing data", errCartSchema)
	}
	if cart.Items == nil {
		return domain.Cart{}, fmt.Errorf("%w: items missing", errCartSchema)
	}
	if err := cartValidator.Struct(cart); err != nil {
		return domain.Cart{}, fmt.Errorf("%w: %v", errCartSchema, err)
	}

	lineIDs := make(map[string]struct{}, len(cart.Items))
	for i, item := range cart.Items {
		if _, dup := lineIDs[item.ID]; dup {
			return domain.Cart{}, fmt.Errorf("%w: items[%d]: duplicate line id", errCartSchema, i)
		}
		lineIDs[item.ID] = struct{}{}
		if item.Product.ID != item.ProductID {
			return domain.Cart{}, fmt.Errorf("%w: items[%d]: snapshot does not match productId", errCartSchema, i)
		}
		if item.Product.Price.IsNegative() {
			return domain.Cart{}, fmt.Errorf("%w: items[%d]: negative price", errCartSchema, i)
		}
	}
	return cart, nil
}

func encodePersistedCart(cart domain.Cart) (string, error) {
	payload, err := json.Marshal(cart)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}
