package liquidvex

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gregtusar/liquidvex/pkg/models"
)

// WSBaseFromHTTP derives the push-channel base from the REST base URL so the
// two can never point at different hosts by accident.
func WSBaseFromHTTP(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q in %s", u.Scheme, baseURL)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

func AllMidsURL(wsBase string) string {
	return strings.TrimRight(wsBase, "/") + "/allMids"
}

func OrderBookURL(wsBase, coin string) string {
	return strings.TrimRight(wsBase, "/") + "/orderbook/" + url.PathEscape(models.NormalizeCoin(coin))
}

func TradesURL(wsBase, coin string) string {
	return strings.TrimRight(wsBase, "/") + "/trades/" + url.PathEscape(models.NormalizeCoin(coin))
}

func CandlesURL(wsBase, coin, interval string) string {
	return strings.TrimRight(wsBase, "/") + "/candles/" + url.PathEscape(models.NormalizeCoin(coin)) + "/" + url.PathEscape(interval)
}
