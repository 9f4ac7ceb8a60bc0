package notify

// Event types emitted by the trading services. The notifier's allow-list in
// the config filters on these names.
const (
	EventTradeExecuted   = "trade_executed"
	EventTradeRejected   = "trade_rejected"
	EventExecutionFailed = "execution_failed"
	EventPositionClosed  = "position_closed"
	EventFeedGap         = "feed_gap"
)
