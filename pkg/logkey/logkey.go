package logkey

// Keys used for structured log attributes across the service.
const (
	TraceID   = "TRACE ID"
	ERROR     = "ERROR"
	UserID    = "UserID"
	ProductID = "ProductID"
	OrderID   = "OrderID"
	EventID   = "EventID"
	EventType = "EventType"
)
