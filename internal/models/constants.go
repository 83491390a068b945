package models

import "time"

// Meta calling and messaging limits. The customer app enforces these because
// enforcing them here would mean storing end-user phone numbers.
const (
	CallPermissionDailyLimit       = 1
	CallPermissionWeeklyLimit      = 2
	MaxCallsAfterPermission        = 5
	PermissionValidity             = 7 * 24 * time.Hour
	MaxUnansweredCallsBeforeRevoke = 4
	ConversationWindow             = 24 * time.Hour
	FreeAdsWindow                  = 72 * time.Hour
)

const (
	DefaultCallMarkupPercentage    = 35.0
	DefaultMessageMarkupPercentage = 30.0
	DefaultBaseFee                 = 29.0

	// Meta base rates in USD.
	BaseMessageCost       = 0.005
	BaseCallRatePerMinute = 0.03
)

const (
	UsageMetricsRetention = 90 * 24 * time.Hour
	SignupSessionCleanup  = 24 * time.Hour
)

const (
	UsageWarningThreshold = 0.75
	UsageAlertThreshold   = 0.90
)

// CallingRestrictedRegions lists ISO regions where WhatsApp Business Calling is unavailable.
var CallingRestrictedRegions = []string{"US", "CA", "NG", "EG", "VN", "TR"}

const (
	MsgSignupInitiated    = "Embedded signup initiated. Please complete the process."
	MsgSignupCompleted    = "WhatsApp Business Account connected successfully!"
	MsgCallingUnavailable = "WhatsApp calling is not available in your region."
	MsgCustomerSuspended  = "Your account has been suspended. Please contact support."
	MsgFeatureNotEnabled  = "This feature is not enabled for your subscription plan."
	MsgCustomerRegistered = "Customer registered. Complete embedded signup to activate."
)

const (
	ErrMsgOAuthFailed       = "Authentication failed. Please try again."
	ErrMsgMetaAPI           = "Meta API error. Please contact support."
	ErrMsgJanusConnection   = "WebRTC gateway connection failed. Please try again."
	ErrMsgCustomerNotFound  = "Customer account not found."
	ErrMsgInvalidToken      = "Invalid or expired token."
	ErrMsgMissingParameters = "Missing required parameters"
)

// Forwarded webhook event types.
const (
	EventMessageStatus       = "message_status"
	EventInboundMessage      = "inbound_message"
	EventCallPermissionReply = "call_permission_reply"
	EventCallStatus          = "call_status"
)
