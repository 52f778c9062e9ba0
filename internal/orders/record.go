package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/todolimpio-backend/internal/gateway"
	"github.com/angelmondragon/todolimpio-backend/pkg/enums"
	"github.com/angelmondragon/todolimpio-backend/pkg/logger"
)

// Line is one entry of an order sheet. Product ids are not kept.
type Line struct {
	ProductName string `json:"nombreproducto"`
	Quantity    int    `json:"cantidad"`
}

// Sheet is the hojadepedido document.
type Sheet struct {
	Products []Line `json:"productos"`
}

// Record is a submitted order as clients see it.
type Record struct {
	ID         string            `json:"id"`
	OwnerID    string            `json:"usuario_id"`
	OwnerName  string            `json:"nombreusuario"`
	LocationID string            `json:"identificadorubicacion"`
	Sheet      Sheet             `json:"hojadepedido"`
	Status     enums.OrderStatus `json:"estadopedido"`
	CreatedAt  time.Time         `json:"fechacreacion"`
}

// ToRow renders the record for gateway.Insert. The id is left to the gateway.
func (r Record) ToRow() gateway.Row {
	lines := make([]any, 0, len(r.Sheet.Products))
	for _, l := range r.Sheet.Products {
		lines = append(lines, map[string]any{"nombreproducto": l.ProductName, "cantidad": l.Quantity})
	}
	return gateway.Row{
		"usuario_id":             r.OwnerID,
		"nombreusuario":          r.OwnerName,
		"identificadorubicacion": r.LocationID,
		"hojadepedido":           map[string]any{"productos": lines},
		"estadopedido":           string(r.Status),
		"fechacreacion":          r.CreatedAt,
	}
}

var ErrUndecodableLines = errors.New("undecodable order lines")

// DecodeLines reads hojadepedido as a JSON document, then as a string holding
// JSON. Anything else is ErrUndecodableLines.
func DecodeLines(raw any) ([]Line, error) {
	switch v := raw.(type) {
	case nil:
		return nil, fmt.Errorf("%w: missing", ErrUndecodableLines)
	case string:
		var sheet Sheet
		if err := json.Unmarshal([]byte(v), &sheet); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUndecodableLines, err)
		}
		return sheet.Products, nil
	case []byte:
		return DecodeLines(string(v))
	case json.RawMessage:
		return decodeStructured(v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUndecodableLines, err)
		}
		return decodeStructured(encoded)
	}
}

// decodeStructured accepts a document and, failing that, a JSON string
// literal wrapping one.
func decodeStructured(raw []byte) ([]Line, error) {
	var sheet Sheet
	if err := json.Unmarshal(raw, &sheet); err == nil {
		return sheet.Products, nil
	}
	var nested string
	if err := json.Unmarshal(raw, &nested); err == nil {
		return DecodeLines(nested)
	}
	return nil, fmt.Errorf("%w: unexpected shape", ErrUndecodableLines)
}

// Decoder turns gateway rows into records. Lines that cannot be read become
// an empty list with a warning; the row itself is still usable.
type Decoder struct {
	logg *logger.Logger
}

func NewDecoder(logg *logger.Logger) *Decoder {
	if logg == nil {
		logg = logger.Nop()
	}
	return &Decoder{logg: logg}
}

func (d *Decoder) Decode(ctx context.Context, row gateway.Row) (Record, error) {
	if row.ID() == "" {
		return Record{}, errors.New("order row has no id")
	}
	rec := Record{
		ID:         row.ID(),
		OwnerID:    row.String("usuario_id"),
		OwnerName:  row.String("nombreusuario"),
		LocationID: row.String("identificadorubicacion"),
		Status:     enums.OrderStatus(row.String("estadopedido")),
	}
	switch ts := row["fechacreacion"].(type) {
	case time.Time:
		rec.CreatedAt = ts
	case string:
		created, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return Record{}, fmt.Errorf("parsing fechacreacion: %w", err)
		}
		rec.CreatedAt = created
	}

	lines, err := DecodeLines(row["hojadepedido"])
	if err != nil {
		d.logg.Warn(d.logg.WithFields(ctx, map[string]any{
			"order_id": rec.ID,
			"error":    err.Error(),
		}), "order lines unreadable, using empty list")
		lines = nil
	}
	if lines == nil {
		lines = []Line{}
	}
	rec.Sheet = Sheet{Products: lines}
	return rec, nil
}

// Key identifies a record inside a snapshot.
func Key(r Record) string {
	return r.ID
}
