package models

import "time"

// Favorite marks a starred market. Recently traded markets are kept in the
// same coin+timestamp shape.
type Favorite struct {
	Coin      string    `json:"coin"`
	Timestamp time.Time `json:"timestamp"`
}

type LayoutPreferences struct {
	PanelSizes          map[string]float64 `json:"panelSizes"`
	ActiveBottomTab     string             `json:"activeBottomTab"`
	TradeHistoryFilters map[string]string  `json:"tradeHistoryFilters"`
}

// DefaultLayout is used whenever no valid layout has been stored.
func DefaultLayout() LayoutPreferences {
	return LayoutPreferences{
		PanelSizes: map[string]float64{
			"chart":      60,
			"orderBook":  20,
			"orderEntry": 20,
			"bottom":     30,
		},
		ActiveBottomTab: "positions",
		TradeHistoryFilters: map[string]string{
			"side":  "all",
			"range": "7d",
		},
	}
}

type NotificationLevel string

const (
	NotificationInfo    NotificationLevel = "info"
	NotificationSuccess NotificationLevel = "success"
	NotificationWarning NotificationLevel = "warning"
	NotificationError   NotificationLevel = "error"
)

// Notification is a dismissable toast.
type Notification struct {
	ID        string            `json:"id"`
	Level     NotificationLevel `json:"level"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	CreatedAt time.Time         `json:"createdAt"`
	Dismissed bool              `json:"dismissed"`
}
