package taskstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// condition is one clause of a search filter.
type condition struct {
	FieldName string   `json:"field_name"`
	Operator  string   `json:"operator"`
	Value     []string `json:"value"`
}

type searchRequest struct {
	Filter struct {
		Conjunction string      `json:"conjunction"`
		Conditions  []condition `json:"conditions"`
	} `json:"filter"`
}

type searchResponse struct {
	Data struct {
		Items     []rawRecord `json:"items"`
		HasMore   bool        `json:"has_more"`
		PageToken string      `json:"page_token"`
	} `json:"data"`
}

// Find returns the records whose field equals any of values. The store
// only matches one value per filter, so each value is queried separately
// and the union is de-duplicated by record ID in first-seen order.
func (c *Client) Find(ctx context.Context, field string, values ...string) ([]Record, error) {
	table, err := c.Table(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []Record
	for _, value := range values {
		raws, err := c.search(ctx, table, condition{FieldName: field, Operator: "is", Value: []string{value}})
		if err != nil {
			return nil, err
		}
		for _, raw := range raws {
			if raw.RecordID == "" || seen[raw.RecordID] {
				continue
			}
			seen[raw.RecordID] = true
			out = append(out, c.schema.decode(raw))
		}
	}
	return out, nil
}

// QueryByStatus returns the records in any of the given statuses.
func (c *Client) QueryByStatus(ctx context.Context, statuses ...BindingStatus) ([]Record, error) {
	labels := make([]string, 0, len(statuses))
	for _, s := range statuses {
		if label := c.schema.labels.Label(s); label != "" {
			labels = append(labels, label)
		}
	}
	return c.Find(ctx, c.opts.Fields.Status, labels...)
}

// search pages through one filtered query.
func (c *Client) search(ctx context.Context, table TableRef, cond condition) ([]rawRecord, error) {
	var req searchRequest
	req.Filter.Conjunction = "and"
	req.Filter.Conditions = []condition{cond}

	var out []rawRecord
	pageToken := ""
	for {
		q := url.Values{"page_size": {strconv.Itoa(c.opts.PageSize)}}
		if pageToken != "" {
			q.Set("page_token", pageToken)
		}
		body, err := c.call(ctx, "search records", http.MethodPost, table.recordsPath()+"/search?"+q.Encode(), req, true)
		if err != nil {
			return nil, err
		}

		var resp searchResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, &Error{Op: "search records", Category: CategoryPermanent, Msg: "malformed response", Err: err}
		}
		out = append(out, resp.Data.Items...)

		if !resp.Data.HasMore || resp.Data.PageToken == "" || resp.Data.PageToken == pageToken {
			return out, nil
		}
		pageToken = resp.Data.PageToken
	}
}

// Update writes fields to an existing record.
func (c *Client) Update(ctx context.Context, recordID string, fields map[string]any) error {
	if recordID == "" {
		return fmt.Errorf("update: empty record id")
	}
	table, err := c.Table(ctx)
	if err != nil {
		return err
	}
	_, err = c.call(ctx, "update record", http.MethodPut, table.recordsPath()+"/"+url.PathEscape(recordID), map[string]any{"fields": fields}, true)
	return err
}

// UpdateStatus moves rec to status to, writing extra fields alongside. The
// move must be reachable through the transition graph; a multi-hop move
// (PendingAdd→Bound) is written once with the final label. It returns the
// hops taken.
func (c *Client) UpdateStatus(ctx context.Context, rec Record, to BindingStatus, extra map[string]any) ([]BindingStatus, error) {
	hops := Path(rec.Status, to)
	if len(hops) == 0 {
		return nil, fmt.Errorf("%w: %s → %s (record %s)", ErrIllegalTransition, rec.Status, to, rec.ID)
	}

	fields := make(map[string]any, len(extra)+1)
	for k, v := range extra {
		fields[k] = v
	}
	fields[c.opts.Fields.Status] = c.schema.labels.Label(to)

	if err := c.Update(ctx, rec.ID, fields); err != nil {
		return nil, err
	}
	return hops, nil
}

// Create inserts a record and returns its ID.
func (c *Client) Create(ctx context.Context, fields map[string]any) (string, error) {
	table, err := c.Table(ctx)
	if err != nil {
		return "", err
	}
	body, err := c.call(ctx, "create record", http.MethodPost, table.recordsPath(), map[string]any{"fields": fields}, true)
	if err != nil {
		return "", err
	}

	var resp struct {
		Data struct {
			Record rawRecord `json:"record"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.Data.Record.RecordID == "" {
		return "", &Error{Op: "create record", Category: CategoryPermanent, Msg: "response has no record id", Err: err}
	}
	return resp.Data.Record.RecordID, nil
}

// Upsert updates the first record whose keyField equals keyValue, or
// creates one. The key is always written. A status label in fields is only
// written to an existing record when the status graph allows the move; the
// other fields are written either way. It reports whether a record was
// created.
func (c *Client) Upsert(ctx context.Context, keyField, keyValue string, fields map[string]any) (string, bool, error) {
	existing, err := c.Find(ctx, keyField, keyValue)
	if err != nil {
		return "", false, err
	}

	merged := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		merged[k] = v
	}
	merged[keyField] = keyValue

	if len(existing) > 0 {
		rec := existing[0]
		statusField := c.opts.Fields.Status
		if label, ok := merged[statusField].(string); ok {
			to := c.schema.labels.Parse(label)
			if to != rec.Status && len(Path(rec.Status, to)) == 0 {
				c.logger.Warn("upsert keeps the current status", "record_id", rec.ID, "from", rec.Status.String(), "to", to.String())
				delete(merged, statusField)
			}
		}
		return rec.ID, false, c.Update(ctx, rec.ID, merged)
	}
	id, err := c.Create(ctx, merged)
	return id, err == nil, err
}
