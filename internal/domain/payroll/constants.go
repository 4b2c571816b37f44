package payroll

const (
	PeriodStatusOpen     = "open"
	PeriodStatusLocked   = "locked"
	PeriodStatusApproved = "approved"

	PayRunStatusDraft    = "draft"
	PayRunStatusApproved = "approved"

	RouteStatusCompleted = "completed"
)

type PaymentType string

const (
	PaymentPerRoute PaymentType = "per_route"
	PaymentPerStop  PaymentType = "per_stop"
	PaymentMixed    PaymentType = "mixed"
)

type SourceType string

const (
	SourceRoute       SourceType = "route"
	SourceStop        SourceType = "stop"
	SourceWeightExtra SourceType = "weight_extra"
	SourceFine        SourceType = "fine"
	SourceBonus       SourceType = "bonus"
	SourceInfo        SourceType = "info"
)

// Line tags are machine-readable outcome codes. Tags starting with
// WarnTagPrefix count towards the run's warning total.
const (
	TagPerRoute         = "PER_ROUTE"
	TagUseDriverBase    = "USE_DRIVER_BASE"
	TagUseZoneRate      = "USE_ZONE_RATE"
	TagWarnNoZone       = "WARN_NO_ZONE"
	TagWarnZoneFallback = "WARN_ZONE_PRICE_FALLBACK"
	TagWarnNoRoutePrice = "WARN_NO_ROUTE_PRICE"
	TagInfoNoDelivered  = "INFO_NO_DELIVERED"
	TagCNLPenalty       = "CNL_PENALTY"
	TagMinRouteAdjust   = "MIN_ROUTE_ADJUST"
	TagWeightExtra      = "WEIGHT_EXTRA"
	TagFineApplied      = "FINE_APPLIED"
	TagWarnCount        = "WARN_COUNT"
	WarnTagPrefix       = "WARN_"
	tagSeparator        = ","
)

const (
	EventPayRunComputed = "payroll.payrun.computed.v1"

	DateLayout          = "2006-01-02"
	defaultBatchWorkers = 4
)
