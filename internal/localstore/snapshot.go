package localstore

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-cart/internal/domain/cart"
)

// SchemaVersion tags every snapshot; a stored snapshot with a different
// version is discarded instead of being half-applied.
const SchemaVersion = 1

// snapshotKey is the single durable slot the cart lives under.
const snapshotKey = "cart"

// ErrCorruptSnapshot marks snapshot data that could not be decoded.
var ErrCorruptSnapshot = errors.New("corrupt cart snapshot")

// Adapter serializes the full cart to one durable key after every store
// mutation and restores it at application start.
type Adapter struct {
	kv KV
	lg *zap.Logger
}

// New returns an Adapter over the given KV.
func New(kv KV, lg *zap.Logger) *Adapter {
	return &Adapter{kv: kv, lg: lg}
}

// Save writes the cart snapshot. On failure it returns the error so the
// caller can log it; the previously saved state is left intact either way.
func (a *Adapter) Save(c cart.Cart) error {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("schemaVersion")
	e.Int(SchemaVersion)
	e.FieldStart("cart")
	cart.Encode(&e, c)
	e.ObjEnd()

	if err := a.kv.Set(snapshotKey, e.Bytes()); err != nil {
		return errors.Wrap(err, "write snapshot")
	}
	return nil
}

// Load restores the snapshot. It returns a valid empty cart when no
// snapshot exists, when the data is corrupt, or when the schema version
// does not match; corrupt or mismatched data is deleted rather than
// half-applied.
func (a *Adapter) Load() cart.Cart {
	data, ok, err := a.kv.Get(snapshotKey)
	if err != nil {
		a.lg.Warn("read cart snapshot", zap.Error(err))
		return cart.Empty()
	}
	if !ok {
		return cart.Empty()
	}

	c, err := decodeSnapshot(data)
	if err != nil {
		a.lg.Warn("discarding cart snapshot", zap.Error(err))
		if derr := a.kv.Delete(snapshotKey); derr != nil {
			a.lg.Warn("delete corrupt snapshot", zap.Error(derr))
		}
		return cart.Empty()
	}
	return c
}

// Clear removes the durable key entirely.
func (a *Adapter) Clear() error {
	if err := a.kv.Delete(snapshotKey); err != nil {
		return errors.Wrap(err, "delete snapshot")
	}
	return nil
}

func decodeSnapshot(data []byte) (cart.Cart, error) {
	var (
		version int
		c       cart.Cart
		gotCart bool
	)
	d := jx.DecodeBytes(data)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "schemaVersion":
			v, err := d.Int()
			if err != nil {
				return err
			}
			version = v
			return nil
		case "cart":
			parsed, err := cart.Decode(d)
			if err != nil {
				return err
			}
			c = parsed
			gotCart = true
			return nil
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return cart.Cart{}, errors.Wrap(ErrCorruptSnapshot, err.Error())
	}
	if !gotCart {
		return cart.Cart{}, ErrCorruptSnapshot
	}
	if version != SchemaVersion {
		return cart.Cart{}, errors.Errorf("snapshot schema version %d, want %d", version, SchemaVersion)
	}
	return c, nil
}
