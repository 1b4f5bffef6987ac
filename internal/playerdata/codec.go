package playerdata

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/playersync/internal/datasync/sqlsync"
	"github.com/google/uuid"
)

// Table is the SQL table holding player progression.
const Table = "player_data"

// sqlCodec maps PlayerData onto Table. Attributes are stored as a JSON
// object in a text column.
type sqlCodec struct {
	now func() time.Time
}

func (sqlCodec) Table() string {
	return Table
}

func (c sqlCodec) Load(p *PlayerData, row sqlsync.Row) error {
	o, err := offlineFromRow(p.ID(), row)
	if err != nil {
		return err
	}
	p.restore(o)
	return nil
}

func (sqlCodec) LoadEmpty(p *PlayerData) error {
	p.restore(DefaultOffline(p.ID()))
	return nil
}

func (c sqlCodec) Columns(p *PlayerData) map[string]any {
	s := p.Snapshot()
	attrs, _ := json.Marshal(s.Attributes)
	return map[string]any{
		"level":      s.Level,
		"experience": s.Experience,
		"balance":    s.Balance,
		"attributes": string(attrs),
		"updated_at": c.now().UTC(),
	}
}

func (sqlCodec) Offline(id uuid.UUID, row sqlsync.Row) Offline {
	if row == nil {
		return DefaultOffline(id)
	}
	o, err := offlineFromRow(id, row)
	if err != nil {
		return DefaultOffline(id)
	}
	return o
}

func offlineFromRow(id uuid.UUID, row sqlsync.Row) (Offline, error) {
	o := Offline{
		ID:         id,
		Level:      int(row.Int("level")),
		Experience: row.Int("experience"),
		Balance:    row.Float("balance"),
		Attributes: map[string]string{},
	}
	if raw := row.String("attributes"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &o.Attributes); err != nil {
			return Offline{}, fmt.Errorf("attributes of %s: %w", id, err)
		}
	}
	if o.Level < DefaultLevel {
		o.Level = DefaultLevel
	}
	return o, nil
}

// Document is the YAML form used by the file and object backends.
type Document struct {
	Level      int               `yaml:"level"`
	Experience int64             `yaml:"experience"`
	Balance    float64           `yaml:"balance"`
	Attributes map[string]string `yaml:"attributes,omitempty"`
}

type docCodec struct{}

func (docCodec) Document(p *PlayerData) Document {
	s := p.Snapshot()
	return Document{
		Level:      s.Level,
		Experience: s.Experience,
		Balance:    s.Balance,
		Attributes: s.Attributes,
	}
}

func (c docCodec) Apply(p *PlayerData, d *Document) error {
	p.restore(c.Snapshot(p.ID(), d))
	return nil
}

func (docCodec) Snapshot(id uuid.UUID, d *Document) Offline {
	if d == nil {
		return DefaultOffline(id)
	}
	o := Offline{
		ID:         id,
		Level:      max(d.Level, DefaultLevel),
		Experience: d.Experience,
		Balance:    d.Balance,
		Attributes: d.Attributes,
	}
	if o.Attributes == nil {
		o.Attributes = map[string]string{}
	}
	return o
}
