package reconcile

import (
	"strconv"
	"strings"
	"time"

	"github.com/labdesk/labdesk/internal/domain/order"
)

// CorrelationKey is the id the LIS knows an order by:
// "OR.<YYYYMMDD of creation in loc>.<local id>".
func CorrelationKey(o *order.Order, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return "OR." + o.CreatedAt.In(loc).Format("20060102") + "." + strconv.FormatInt(o.ID, 10)
}

// ParseCorrelationID extracts the local order id from an echoed correlation
// key: everything after the last '.'.
func ParseCorrelationID(key string) (int64, bool) {
	i := strings.LastIndexByte(key, '.')
	id, err := strconv.ParseInt(strings.TrimSpace(key[i+1:]), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// MapRemoteStatus translates a remote order status. Only processing and
// reported move an order; every other value keeps current.
func MapRemoteStatus(remote string, current order.Status) order.Status {
	switch strings.ToLower(strings.TrimSpace(remote)) {
	case "processing":
		return order.StatusProcessing
	case "reported":
		return order.StatusReported
	default:
		return current
	}
}
