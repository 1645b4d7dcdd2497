package ai

import "context"

type Client interface {
	Generate(ctx context.Context, req GenerateRequest) ([]Part, error)
}
