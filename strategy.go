package chatIO

import (
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

// detectConnectionType never fails: anything that is not a ws/wss URL is
// treated as http.
func detectConnectionType(serverURL string, log zerolog.Logger) ConnectionType {
	u, err := url.Parse(strings.TrimSpace(serverURL))
	if err != nil {
		log.Warn().Err(err).Str("url", serverURL).Msg("unparseable server url, assuming http")
		return CONNECTION_HTTP
	}

	switch strings.ToLower(u.Scheme) {
	case "ws", "wss":
		return CONNECTION_WEBSOCKET
	case "http", "https":
		return CONNECTION_HTTP
	}

	log.Warn().Str("url", serverURL).Msg("unknown server url scheme, assuming http")
	return CONNECTION_HTTP
}

// initialStrategy picks the strategy a new Client starts with.
func initialStrategy(connType ConnectionType, config Config) ApiStrategy {
	switch {
	case config.Offline:
		return STRATEGY_OFFLINE
	case connType == CONNECTION_WEBSOCKET:
		return STRATEGY_WEBSOCKET
	case config.ForceJSONP || config.PreferJSONP:
		return STRATEGY_JSONP
	}
	return STRATEGY_CORS
}

// nextStrategy is the only strategy transition there is: cors moves to
// jsonp on a network failure while the fallback budget lasts. Every other
// input leaves the strategy as it is.
func nextStrategy(current ApiStrategy, err error, attempts int, limit int) ApiStrategy {
	if current != STRATEGY_CORS || attempts >= limit || !isNetworkError(err) {
		return current
	}
	return STRATEGY_JSONP
}
