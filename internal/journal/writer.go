// Package journal records every applied or rejected sync action in an
// append-only table, inside the caller's transaction.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type Payload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, kind, routeID, jobID, technicianID string, payload Payload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal journal payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO journal(ts,kind,route_id,job_id,technician_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, kind, nullable(routeID), nullable(jobID), technicianID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
