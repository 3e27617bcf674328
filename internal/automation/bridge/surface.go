package bridge

import (
	"context"

	"github.com/Iron-Ham/friendflow/internal/automation"
)

type controlParams struct {
	Control automation.Control `json:"control"`
}

func (c *Client) Attach(ctx context.Context) error {
	return c.call(ctx, "session.attach", nil, nil)
}

func (c *Client) Detach(ctx context.Context) error {
	return c.call(ctx, "session.detach", nil, nil)
}

func (c *Client) Running(ctx context.Context) (bool, error) {
	var result struct {
		Running bool `json:"running"`
	}
	err := c.call(ctx, "client.running", nil, &result)
	return result.Running, err
}

func (c *Client) Activate(ctx context.Context) error {
	return c.call(ctx, "client.activate", nil, nil)
}

func (c *Client) Locate(ctx context.Context, q automation.Query) (automation.Lookup, error) {
	var result automation.Lookup
	err := c.call(ctx, "surface.locate", q, &result)
	return result, err
}

func (c *Client) LocateAll(ctx context.Context, q automation.Query) ([]automation.Control, error) {
	var result struct {
		Controls []automation.Control `json:"controls"`
	}
	err := c.call(ctx, "surface.locate_all", q, &result)
	return result.Controls, err
}

func (c *Client) Click(ctx context.Context, ctl automation.Control) error {
	return c.call(ctx, "control.click", controlParams{Control: ctl}, nil)
}

func (c *Client) RightClick(ctx context.Context, ctl automation.Control) error {
	return c.call(ctx, "control.right_click", controlParams{Control: ctl}, nil)
}

func (c *Client) Dismiss(ctx context.Context, ctl automation.Control) error {
	return c.call(ctx, "control.dismiss", controlParams{Control: ctl}, nil)
}

func (c *Client) SendKeys(ctx context.Context, keys string) error {
	return c.call(ctx, "input.send_keys", map[string]string{"keys": keys}, nil)
}

func (c *Client) TypeText(ctx context.Context, text string) error {
	return c.call(ctx, "input.type_text", map[string]string{"text": text}, nil)
}

func (c *Client) SetClipboardText(ctx context.Context, text string) error {
	return c.call(ctx, "clipboard.set_text", map[string]string{"text": text}, nil)
}

func (c *Client) SetClipboardFiles(ctx context.Context, paths []string) error {
	return c.call(ctx, "clipboard.set_files", map[string][]string{"paths": paths}, nil)
}
