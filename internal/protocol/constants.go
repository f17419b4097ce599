package protocol

// Command tokens that start every header line
const (
	PutCommand    = "put"
	GetCommand    = "get"
	OffsetCommand = "offset"
	ResultCommand = "result"
	ValueCommand  = "value"
)

// Status codes carried by result frames. They mirror HTTP semantics.
const (
	StatusSuccess             = 200
	StatusMoved               = 301
	StatusBadRequest          = 400
	StatusUnauthorized        = 401
	StatusForbidden           = 403
	StatusNotFound            = 404
	StatusInternalServerError = 500
	StatusServiceUnavailable  = 503
	StatusGatewayTimeout      = 504
)

const (
	// MaxMessageLength is the largest payload a put may carry and the
	// maxLen sent with every get.
	MaxMessageLength = 102400

	// RecordHeaderSize is length(4) + crc(4) + id(8) + flag(4)
	RecordHeaderSize = 20

	// RequestVersion is the opaque request number appended to put headers
	RequestVersion = 1

	CRCMask = 0x7FFFFFFF

	LineTerminator = "\r\n"
)

// StatusNames maps status codes to human-readable names
var StatusNames = map[int]string{
	StatusSuccess:             "SUCCESS",
	StatusMoved:               "MOVED",
	StatusBadRequest:          "BAD_REQUEST",
	StatusUnauthorized:        "UNAUTHORIZED",
	StatusForbidden:           "FORBIDDEN",
	StatusNotFound:            "NOT_FOUND",
	StatusInternalServerError: "INTERNAL_SERVER_ERROR",
	StatusServiceUnavailable:  "SERVICE_UNAVAILABLE",
	StatusGatewayTimeout:      "GATEWAY_TIMEOUT",
}

// GetStatusName returns the human-readable name for a status code
func GetStatusName(status int) string {
	if name, exists := StatusNames[status]; exists {
		return name
	}
	return "UNKNOWN_STATUS"
}
