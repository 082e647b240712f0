package telemetry

// postgres_mirror.go adapts the teacher's lib/pq LISTEN/NOTIFY pattern
// (internal/dashboard/events.go) into the producer side: a best-effort
// external mirror that NOTIFYs an optional Postgres instance so an
// external dashboard can LISTEN on the same channels the bus publishes
// on. It is never the system of record — see the Mirror contract in
// bus.go.

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresMirror NOTIFYs a Postgres channel per topic using pg_notify,
// matching the channel names the teacher's dashboard already listens on
// (trade_closed, position_opened, trade_executed, metrics_updated) where
// a topic maps onto one of them, and falling back to the raw topic
// string for anything else.
type PostgresMirror struct {
	db *sql.DB
}

// NewPostgresMirror opens a connection pool against dbURL. The
// connection is lazy; failures surface on the first Notify call.
func NewPostgresMirror(dbURL string) (*PostgresMirror, error) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("telemetry: open postgres mirror: %w", err)
	}
	return &PostgresMirror{db: db}, nil
}

// Notify sends data (JSON-encoded) as the payload of a pg_notify call on
// the channel derived from topic.
func (m *PostgresMirror) Notify(topic Topic, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("telemetry: marshal mirror payload: %w", err)
	}
	channel := mirrorChannel(topic)
	_, err = m.db.Exec(`SELECT pg_notify($1, $2)`, channel, string(payload))
	if err != nil {
		return fmt.Errorf("telemetry: notify channel %s: %w", channel, err)
	}
	return nil
}

// Close releases the mirror's connection pool.
func (m *PostgresMirror) Close() error {
	return m.db.Close()
}

func mirrorChannel(topic Topic) string {
	switch topic {
	case TopicPositions:
		return "position_opened"
	case TopicMetrics:
		return "metrics_updated"
	default:
		return string(topic)
	}
}
