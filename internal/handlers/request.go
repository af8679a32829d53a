package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/disciple-tools/homescreen-apps/internal/notify"
)

// ID is a record or user id sent as a JSON number or a numeric string.
type ID int64

func (id *ID) UnmarshalJSON(data []byte) error {
	n, err := parseID(data)
	if err != nil {
		return err
	}
	*id = ID(n)
	return nil
}

// IDs is an id list sent as an array of numbers or numeric strings, a single id, or a
// comma separated string. Zero and unparseable entries are dropped.
type IDs []int64

func (ids *IDs) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	out := IDs{}
	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err == nil {
		for _, elem := range elems {
			if n, err := parseID(elem); err == nil && n != 0 {
				out = append(out, n)
			}
		}
		*ids = out
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		for _, part := range strings.Split(s, ",") {
			if n, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64); err == nil && n != 0 {
				out = append(out, n)
			}
		}
		*ids = out
		return nil
	}
	if n, err := parseID(data); err == nil && n != 0 {
		out = append(out, n)
	}
	*ids = out
	return nil
}

func parseID(data []byte) (int64, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return 0, nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid id %q", s)
		}
		return n, nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return 0, fmt.Errorf("invalid id %s", data)
	}
	return int64(f), nil
}

// bind decodes the request body into req.
func bind(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body").SetInternal(err)
	}
	return nil
}

// requestContext carries the request id as the correlation id of emitted events.
func requestContext(c echo.Context) context.Context {
	ctx := c.Request().Context()
	if id := c.Response().Header().Get(echo.HeaderXRequestID); id != "" {
		return notify.WithCorrelationID(ctx, id)
	}
	return ctx
}

// apiPrefix is the versioned route prefix for the apps under root.
func apiPrefix(root string) string {
	return "/" + strings.Trim(root, "/") + "/v1"
}
