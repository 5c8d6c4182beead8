// Package compressed wraps a snapshot state codec with snappy block
// compression. Large aggregates with repetitive state (lists of line items,
// maps keyed by similar ids) typically shrink to a fraction of their size.
//
//	codec := compressed.New(chronicle.JSONStateCodec{})
//	repo := chronicle.NewRepository(store, "Order", NewOrder,
//		chronicle.WithStateCodec(codec))
//
// The encoding name recorded with each snapshot is the inner name with a
// "+snappy" suffix, so a repository that switches codecs treats older
// snapshots as unusable and replays instead of misreading them.
package compressed

import (
	"fmt"

	chronicle "github.com/AshkanYarmoradi/go-chronicle"
	"github.com/golang/snappy"
)

// Suffix is appended to the inner codec name.
const Suffix = "+snappy"

var _ chronicle.StateCodec = (*Codec)(nil)

// Codec compresses the output of another StateCodec.
type Codec struct {
	inner chronicle.StateCodec
}

// New wraps inner. A nil inner codec means chronicle.JSONStateCodec.
func New(inner chronicle.StateCodec) *Codec {
	if inner == nil {
		inner = chronicle.JSONStateCodec{}
	}
	return &Codec{inner: inner}
}

// Encode implements chronicle.StateCodec.
func (c *Codec) Encode(state interface{}) ([]byte, error) {
	raw, err := c.inner.Encode(state)
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, raw), nil
}

// Decode implements chronicle.StateCodec.
func (c *Codec) Decode(data []byte, target interface{}) error {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return fmt.Errorf("chronicle/compressed: snappy decompress failed: %w", err)
	}
	return c.inner.Decode(raw, target)
}

// Name implements chronicle.StateCodec.
func (c *Codec) Name() string {
	return c.inner.Name() + Suffix
}
