package whatsapp

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

type Recipient struct {
	Name         string
	Phone        string
	Municipality string
	Sector       string
}

type Result struct {
	Name       string
	Phone      string
	Success    bool
	MessageSID string
	Error      string
}

// Summary reports a bulk send. Results follow the order of the recipients.
type Summary struct {
	BatchID   string
	Success   bool
	Total     int
	Succeeded int
	Failed    int
	Results   []Result
	Message   string
}

// Render substitutes {name}, {municipality} and {sector} in template.
func Render(template string, r Recipient) string {
	return strings.NewReplacer(
		"{name}", strings.TrimSpace(r.Name),
		"{municipality}", strings.TrimSpace(r.Municipality),
		"{sector}", strings.TrimSpace(r.Sector),
	).Replace(template)
}

// SendBulk renders template per recipient and sends the messages with bounded
// concurrency. A failing recipient never aborts the others; Success is true
// when at least one message went out.
func (c *Client) SendBulk(ctx context.Context, recipients []Recipient, template string) (Summary, error) {
	if strings.TrimSpace(template) == "" {
		return Summary{}, fmt.Errorf("%w: message body required", ErrInvalid)
	}
	if len(recipients) == 0 {
		return Summary{}, fmt.Errorf("%w: at least one recipient required", ErrInvalid)
	}
	if !c.Enabled() {
		return Summary{}, ErrNotConfigured
	}

	results := make([]Result, len(recipients))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, r := range recipients {
		g.Go(func() error {
			res := Result{Name: r.Name, Phone: r.Phone}
			sid, err := c.Send(gctx, r.Phone, Render(template, r))
			if err != nil {
				res.Error = err.Error()
			} else {
				res.Success = true
				res.MessageSID = sid
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	summary := Summary{
		BatchID: uuid.NewString(),
		Total:   len(recipients),
		Results: results,
	}
	for _, res := range results {
		if res.Success {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}
	summary.Success = summary.Succeeded > 0
	summary.Message = fmt.Sprintf("%d of %d messages sent", summary.Succeeded, summary.Total)
	return summary, nil
}
