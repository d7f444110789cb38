package cache

import "context"

type partitionKey struct{}

// WithPartition scopes api cache entries to one shopper. Static assets and
// images stay shared.
func WithPartition(ctx context.Context, partition string) context.Context {
	return context.WithValue(ctx, partitionKey{}, partition)
}

// PartitionFromContext returns the partition set by WithPartition.
func PartitionFromContext(ctx context.Context) string {
	p, _ := ctx.Value(partitionKey{}).(string)
	return p
}
