package cart

import (
	"sort"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-cart/internal/domain/coupon"
)

// Encode writes the cart as its wire/snapshot JSON form:
//
//	{ "items": [...], "appliedCoupon": {...}, "subtotal": ...,
//	  "taxAmount": ..., "shippingAmount": ..., "discountAmount": ...,
//	  "grandTotal": ..., "revision": ... }
//
// appliedCoupon is null when no coupon is active.
func Encode(e *jx.Encoder, c Cart) {
	e.ObjStart()

	e.FieldStart("items")
	e.ArrStart()
	for _, item := range c.Items {
		encodeItem(e, item)
	}
	e.ArrEnd()

	e.FieldStart("appliedCoupon")
	if c.AppliedCoupon == nil {
		e.Null()
	} else {
		encodeCoupon(e, *c.AppliedCoupon)
	}

	e.FieldStart("subtotal")
	encodeDecimal(e, c.Totals.Subtotal)
	e.FieldStart("taxAmount")
	encodeDecimal(e, c.Totals.Tax)
	e.FieldStart("shippingAmount")
	encodeDecimal(e, c.Totals.Shipping)
	e.FieldStart("discountAmount")
	encodeDecimal(e, c.Totals.Discount)
	e.FieldStart("grandTotal")
	encodeDecimal(e, c.Totals.Grand)

	e.FieldStart("revision")
	e.UInt64(c.Revision)

	e.ObjEnd()
}

// EncodeBytes returns the cart's JSON form as a byte slice.
func EncodeBytes(c Cart) []byte {
	var e jx.Encoder
	Encode(&e, c)
	return e.Bytes()
}

func encodeItem(e *jx.Encoder, item Item) {
	e.ObjStart()
	e.FieldStart("productId")
	e.Str(item.ProductID)
	e.FieldStart("name")
	e.Str(item.Name)
	e.FieldStart("unitPrice")
	encodeDecimal(e, item.UnitPrice)
	e.FieldStart("quantity")
	e.Int(item.Quantity)
	e.FieldStart("availableStock")
	e.Int(item.AvailableStock)
	e.FieldStart("variant")
	e.ObjStart()
	for _, k := range sortedVariantKeys(item.Variant) {
		e.FieldStart(k)
		e.Str(item.Variant[k])
	}
	e.ObjEnd()
	e.FieldStart("imageRef")
	e.Str(item.ImageRef)
	e.ObjEnd()
}

func encodeCoupon(e *jx.Encoder, c coupon.Coupon) {
	e.ObjStart()
	e.FieldStart("code")
	e.Str(c.Code)
	e.FieldStart("kind")
	e.Str(string(c.Kind))
	e.FieldStart("value")
	encodeDecimal(e, c.Value)
	e.FieldStart("minSubtotal")
	encodeDecimal(e, c.MinSubtotal)
	if c.Description != "" {
		e.FieldStart("description")
		e.Str(c.Description)
	}
	if c.ValidFrom != nil {
		e.FieldStart("validFrom")
		e.Str(c.ValidFrom.UTC().Format(time.RFC3339))
	}
	if c.ValidUntil != nil {
		e.FieldStart("validUntil")
		e.Str(c.ValidUntil.UTC().Format(time.RFC3339))
	}
	e.ObjEnd()
}

func encodeDecimal(e *jx.Encoder, d decimal.Decimal) {
	e.Num(jx.Num(d.String()))
}

func sortedVariantKeys(v Variant) []string {
	if len(v) == 0 {
		return nil
	}
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Decode parses a cart from its wire/snapshot JSON form. Unknown fields
// are skipped so older snapshots with extra fields still load.
func Decode(d *jx.Decoder) (Cart, error) {
	c := Empty()
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "items":
			return d.Arr(func(d *jx.Decoder) error {
				item, err := decodeItem(d)
				if err != nil {
					return err
				}
				c.Items = append(c.Items, item)
				return nil
			})
		case "appliedCoupon":
			if d.Next() == jx.Null {
				return d.Null()
			}
			cp, err := decodeCoupon(d)
			if err != nil {
				return err
			}
			c.AppliedCoupon = &cp
			return nil
		case "subtotal":
			return decodeDecimal(d, &c.Totals.Subtotal)
		case "taxAmount":
			return decodeDecimal(d, &c.Totals.Tax)
		case "shippingAmount":
			return decodeDecimal(d, &c.Totals.Shipping)
		case "discountAmount":
			return decodeDecimal(d, &c.Totals.Discount)
		case "grandTotal":
			return decodeDecimal(d, &c.Totals.Grand)
		case "revision":
			rev, err := d.UInt64()
			if err != nil {
				return errors.Wrap(err, "revision")
			}
			c.Revision = rev
			return nil
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return Cart{}, err
	}
	return c, nil
}

// DecodeBytes parses a cart from a JSON byte slice.
func DecodeBytes(data []byte) (Cart, error) {
	return Decode(jx.DecodeBytes(data))
}

func decodeItem(d *jx.Decoder) (Item, error) {
	var item Item
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "productId":
			item.ProductID, err = d.Str()
		case "name":
			item.Name, err = d.Str()
		case "unitPrice":
			err = decodeDecimal(d, &item.UnitPrice)
		case "quantity":
			item.Quantity, err = d.Int()
		case "availableStock":
			item.AvailableStock, err = d.Int()
		case "variant":
			return d.Obj(func(d *jx.Decoder, vk string) error {
				val, err := d.Str()
				if err != nil {
					return err
				}
				if item.Variant == nil {
					item.Variant = make(Variant)
				}
				item.Variant[vk] = val
				return nil
			})
		case "imageRef":
			item.ImageRef, err = d.Str()
		default:
			return d.Skip()
		}
		return err
	})
	if err != nil {
		return Item{}, errors.Wrap(err, "item")
	}
	if item.ProductID == "" {
		return Item{}, errors.New("item missing productId")
	}
	if item.Quantity < 1 {
		return Item{}, errors.Errorf("item %s has invalid quantity %d", item.ProductID, item.Quantity)
	}
	if item.UnitPrice.IsNegative() {
		return Item{}, errors.Errorf("item %s has negative unit price", item.ProductID)
	}
	return item, nil
}

func decodeCoupon(d *jx.Decoder) (coupon.Coupon, error) {
	var c coupon.Coupon
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			c.Code, err = d.Str()
		case "kind":
			var kind string
			kind, err = d.Str()
			c.Kind = coupon.Kind(kind)
		case "value":
			err = decodeDecimal(d, &c.Value)
		case "minSubtotal":
			err = decodeDecimal(d, &c.MinSubtotal)
		case "description":
			c.Description, err = d.Str()
		case "validFrom":
			c.ValidFrom, err = decodeTime(d)
		case "validUntil":
			c.ValidUntil, err = decodeTime(d)
		default:
			return d.Skip()
		}
		return err
	})
	if err != nil {
		return coupon.Coupon{}, errors.Wrap(err, "coupon")
	}
	if c.Kind != coupon.KindPercentage && c.Kind != coupon.KindFixedAmount {
		return coupon.Coupon{}, errors.Errorf("unknown coupon kind %q", c.Kind)
	}
	return c, nil
}

func decodeDecimal(d *jx.Decoder, out *decimal.Decimal) error {
	n, err := d.Num()
	if err != nil {
		return err
	}
	v, err := decimal.NewFromString(n.String())
	if err != nil {
		return errors.Wrap(err, "parse decimal")
	}
	*out = v
	return nil
}

func decodeTime(d *jx.Decoder) (*time.Time, error) {
	s, err := d.Str()
	if err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, errors.Wrap(err, "parse time")
	}
	return &t, nil
}
