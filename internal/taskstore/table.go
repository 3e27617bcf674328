package taskstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// TableRef identifies a bitable table.
type TableRef struct {
	AppToken string
	TableID  string
}

// tableLink is a parsed table URL that may still need wiki resolution.
type tableLink struct {
	TableRef
	wikiToken string
}

// parseTableURL accepts:
//
//	https://open.feishu.cn/open-apis/bitable/v1/apps/{app}/tables/{table}[/records]
//	https://x.feishu.cn/base/{app}?table={table}
//	https://x.feishu.cn/wiki/{node}?table={table}
func parseTableURL(raw string) (tableLink, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return tableLink{}, fmt.Errorf("%w: %q", ErrInvalidTableURL, raw)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	tableParam := u.Query().Get("table")
	if tableParam == "" {
		tableParam = u.Query().Get("table_id")
	}

	for i := 0; i < len(parts); i++ {
		switch parts[i] {
		case "apps":
			if i+3 < len(parts) && parts[i+2] == "tables" {
				return tableLink{TableRef: TableRef{AppToken: parts[i+1], TableID: parts[i+3]}}, nil
			}
		case "base":
			if i+1 < len(parts) && tableParam != "" {
				return tableLink{TableRef: TableRef{AppToken: parts[i+1], TableID: tableParam}}, nil
			}
		case "wiki":
			if i+1 < len(parts) && tableParam != "" {
				return tableLink{TableRef: TableRef{TableID: tableParam}, wikiToken: parts[i+1]}, nil
			}
		}
	}
	return tableLink{}, fmt.Errorf("%w: %q needs an app token and a table id", ErrInvalidTableURL, raw)
}

// Table resolves the configured table link, querying the wiki node API for
// /wiki/ links. The result is cached for the client's lifetime.
func (c *Client) Table(ctx context.Context) (TableRef, error) {
	c.tableMu.Lock()
	defer c.tableMu.Unlock()

	if c.table != nil {
		return *c.table, nil
	}

	link, err := parseTableURL(c.opts.TableURL)
	if err != nil {
		return TableRef{}, err
	}
	if link.wikiToken != "" {
		app, err := c.resolveWiki(ctx, link.wikiToken)
		if err != nil {
			return TableRef{}, err
		}
		link.AppToken = app
		c.logger.Info("resolved wiki table link", "node", link.wikiToken, "app_token", app)
	}

	ref := link.TableRef
	c.table = &ref
	return ref, nil
}

func (c *Client) resolveWiki(ctx context.Context, node string) (string, error) {
	q := url.Values{"obj_type": {"wiki"}, "token": {node}}
	body, err := c.call(ctx, "resolve wiki node", http.MethodGet, "/open-apis/wiki/v2/spaces/get_node?"+q.Encode(), nil, true)
	if err != nil {
		return "", err
	}

	var resp struct {
		Data struct {
			Node struct {
				ObjToken string `json:"obj_token"`
				ObjType  string `json:"obj_type"`
			} `json:"node"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &Error{Op: "resolve wiki node", Category: CategoryPermanent, Msg: "malformed response", Err: err}
	}
	if resp.Data.Node.ObjToken == "" {
		return "", fmt.Errorf("%w: wiki node %s has no object token", ErrInvalidTableURL, node)
	}
	if t := resp.Data.Node.ObjType; t != "" && t != "bitable" {
		return "", fmt.Errorf("%w: wiki node %s is a %s, not a bitable", ErrInvalidTableURL, node, t)
	}
	return resp.Data.Node.ObjToken, nil
}

func (r TableRef) recordsPath() string {
	return fmt.Sprintf("/open-apis/bitable/v1/apps/%s/tables/%s/records", url.PathEscape(r.AppToken), url.PathEscape(r.TableID))
}
