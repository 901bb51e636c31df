package api

import "context"

type contextKey string

const playerContextKey contextKey = "player"

func withPlayer(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, playerContextKey, key)
}

func playerFromContext(ctx context.Context) string {
	key, _ := ctx.Value(playerContextKey).(string)
	return key
}
