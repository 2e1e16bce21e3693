package errx

import (
	"context"
	"errors"
	"net/http"

	"github.com/redis/go-redis/v9"
)

// WrapRedis maps session store errors to AppError. A missing key is a 404,
// a store that did not answer in time is a 504, anything else a 502.
func WrapRedis(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, redis.Nil):
		return New(err, http.StatusNotFound, RedisNotFoundMessage)
	case errors.Is(err, context.DeadlineExceeded):
		return New(err, http.StatusGatewayTimeout, RedisErrorMessage)
	case errors.Is(err, context.Canceled):
		return err
	}

	return New(err, http.StatusBadGateway, RedisErrorMessage)
}
