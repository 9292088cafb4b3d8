package envelope

import "context"

func contextWithPartial(ctx context.Context, p *bool) context.Context {
	return context.WithValue(ctx, partialKey{}, p)
}
