package fetch

import "context"

// Fetcher runs the external media-fetching tool. The implementation must
// place its output under outputTemplate (which embeds the job id) and
// return nil only on a clean exit; the returned error carries the most
// specific diagnostic the tool produced.
type Fetcher interface {
	Fetch(ctx context.Context, url, outputTemplate string) error
}

// Func adapts a plain function to a Fetcher, mostly for tests.
type Func func(ctx context.Context, url, outputTemplate string) error

func (f Func) Fetch(ctx context.Context, url, outputTemplate string) error {
	return f(ctx, url, outputTemplate)
}
