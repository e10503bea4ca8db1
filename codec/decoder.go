package codec

import (
	"unicode/utf8"

	"github.com/pkg/errors"

	"github.com/anirudhraja/protoevent/schema"
	"github.com/anirudhraja/protoevent/visitor"
	"github.com/anirudhraja/protoevent/wire"
)

// Decoder turns protobuf bytes into visitor events. It holds no per-call
// state and may be shared between goroutines.
type Decoder struct {
	cfg Config
}

// NewDecoder creates a decoder. The config must name an unknown field policy.
func NewDecoder(cfg Config) (*Decoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Decoder{cfg: cfg}, nil
}

// Config returns the decoder's configuration.
func (d *Decoder) Config() Config { return d.cfg }

// Parse decodes data as a msg and reports every field to v, bracketed by
// v.Init(msg) and v.Destroy(). The first error aborts the parse; decode
// failures are *wire.DecodeError values carrying the byte offset and field path.
func (d *Decoder) Parse(msg *schema.MessageType, v visitor.ScalarVisitor, data []byte) error {
	p := parser{
		cfg:      d.cfg,
		maxDepth: d.cfg.maxDepth(),
		c:        wire.NewCursor(data),
		v:        v,
	}
	if err := v.Init(msg); err != nil {
		return err
	}
	if err := p.parseMessage(msg); err != nil {
		return err
	}
	return v.Destroy()
}

type parser struct {
	cfg      Config
	maxDepth int
	c        *wire.Cursor
	v        visitor.ScalarVisitor
	depth    int
}

func (p *parser) parseMessage(msg *schema.MessageType) error {
	for p.c.Readable() {
		start := p.c.Offset()
		num, wt, err := p.c.ReadTag()
		if err != nil {
			return err
		}

		f := msg.Field(num)
		if f == nil {
			if p.cfg.Unknown == UnknownStrict {
				return wire.NewDecodeError(start, errors.Wrapf(wire.ErrUnknownField, "%s has no field %d", msg.FullName(), num))
			}
			f = schema.UnknownField(msg, num, wt)
			if err := p.parseUnknown(f, wt, start); err != nil {
				return wire.WithField(err, f.DisplayName())
			}
			continue
		}

		if err := p.parseField(f, wt, start); err != nil {
			return wire.WithField(err, f.Name())
		}
	}
	return nil
}

func (p *parser) parseField(f *schema.Field, wt wire.WireType, start int) error {
	switch wt {
	case wire.WireStartGroup, wire.WireEndGroup:
		return wire.NewDecodeError(start, wire.ErrGroup)
	}

	if m := f.Message(); m != nil {
		if wt != wire.WireBytes {
			return wrongWireType(f, wt, start)
		}
		return p.parseEmbedded(f, m, start)
	}

	kind := f.Kind()
	switch kind {
	case schema.TypeString:
		if wt != wire.WireBytes {
			return wrongWireType(f, wt, start)
		}
		n, err := p.c.ReadLength()
		if err != nil {
			return err
		}
		at := p.c.Offset()
		b, err := p.c.ReadRawBytes(n)
		if err != nil {
			return err
		}
		if !p.cfg.AllowInvalidUTF8 && !utf8.Valid(b) {
			return wire.NewDecodeError(at, wire.ErrInvalidUTF8)
		}
		return p.v.VisitString(f, string(b))

	case schema.TypeBytes:
		if wt != wire.WireBytes {
			return wrongWireType(f, wt, start)
		}
		b, err := p.c.ReadLengthDelimited()
		if err != nil {
			return err
		}
		return p.v.VisitBytes(f, b)
	}

	if wt == wire.WireBytes && f.IsPackable() {
		return p.parsePacked(f, kind.WireType())
	}
	if wt != kind.WireType() {
		return wrongWireType(f, wt, start)
	}
	return p.parseScalar(f, wt)
}

func (p *parser) parseEmbedded(f *schema.Field, m *schema.MessageType, start int) error {
	if p.depth >= p.maxDepth {
		return wire.NewDecodeError(start, errors.Wrapf(wire.ErrDepthExceeded, "limit %d", p.maxDepth))
	}
	n, err := p.c.ReadLength()
	if err != nil {
		return err
	}
	prev, err := p.c.PushLimit(n)
	if err != nil {
		return err
	}
	if err := p.v.Enter(f); err != nil {
		return err
	}
	p.depth++
	if err := p.parseMessage(m); err != nil {
		return err
	}
	p.depth--
	p.c.PopLimit(prev)
	return p.v.Leave(f)
}

// parsePacked reads a LEN record holding back-to-back values of elem wire type.
func (p *parser) parsePacked(f *schema.Field, elem wire.WireType) error {
	n, err := p.c.ReadLength()
	if err != nil {
		return err
	}
	prev, err := p.c.PushLimit(n)
	if err != nil {
		return err
	}
	if err := p.v.EnterPacked(f); err != nil {
		return err
	}
	for p.c.Readable() {
		if err := p.parseScalar(f, elem); err != nil {
			return err
		}
	}
	p.c.PopLimit(prev)
	return p.v.LeavePacked(f)
}

func (p *parser) parseScalar(f *schema.Field, wt wire.WireType) error {
	switch wt {
	case wire.WireVarint:
		x, err := p.c.ReadVarint64()
		if err != nil {
			return err
		}
		return visitor.DispatchVarint(p.v, f, x)
	case wire.WireFixed32:
		x, err := p.c.ReadFixed32()
		if err != nil {
			return err
		}
		return visitor.DispatchI32(p.v, f, x)
	case wire.WireFixed64:
		x, err := p.c.ReadFixed64()
		if err != nil {
			return err
		}
		return visitor.DispatchI64(p.v, f, x)
	}
	return wire.NewDecodeError(p.c.Offset(), wire.ErrWireType)
}

// parseUnknown reports an unrecognized field as raw low-level events.
func (p *parser) parseUnknown(f *schema.Field, wt wire.WireType, start int) error {
	switch wt {
	case wire.WireVarint:
		x, err := p.c.ReadVarint64()
		if err != nil {
			return err
		}
		return p.v.VisitVarint64(f, x)
	case wire.WireFixed32:
		x, err := p.c.ReadFixed32()
		if err != nil {
			return err
		}
		return p.v.VisitI32(f, x)
	case wire.WireFixed64:
		x, err := p.c.ReadFixed64()
		if err != nil {
			return err
		}
		return p.v.VisitI64(f, x)
	case wire.WireBytes:
		b, err := p.c.ReadLengthDelimited()
		if err != nil {
			return err
		}
		return p.v.VisitBytes(f, b)
	case wire.WireStartGroup, wire.WireEndGroup:
		return wire.NewDecodeError(start, wire.ErrGroup)
	}
	return wire.NewDecodeError(start, errors.Wrapf(wire.ErrWireType, "wire type %d", wt))
}

func wrongWireType(f *schema.Field, wt wire.WireType, start int) error {
	return wire.NewDecodeError(start, errors.Wrapf(wire.ErrWireType, "%s is %v, got %v", f.FullName(), f.Type(), wt))
}
