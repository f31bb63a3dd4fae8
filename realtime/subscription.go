package realtime

import "fmt"

type Scope string

const (
	ScopeTrip       Scope = "trip"
	ScopeBase       Scope = "base"
	ScopeOutletDate Scope = "outlet_date"
)

const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

type Subscription struct {
	Scope       Scope  `json:"scope"`
	TripID      string `json:"tripId,omitempty"`
	BaseID      string `json:"baseId,omitempty"`
	OutletID    string `json:"outletId,omitempty"`
	ServiceDate string `json:"serviceDate,omitempty"`
}

func TripSubscription(tripID string) Subscription {
	return Subscription{Scope: ScopeTrip, TripID: tripID}
}

func BaseSubscription(baseID string) Subscription {
	return Subscription{Scope: ScopeBase, BaseID: baseID}
}

func OutletDateSubscription(outletID, serviceDate string) Subscription {
	return Subscription{Scope: ScopeOutletDate, OutletID: outletID, ServiceDate: serviceDate}
}

func (s Subscription) Validate() error {
	switch s.Scope {
	case ScopeTrip:
		if s.TripID == "" {
			return fmt.Errorf("trip subscription requires tripId")
		}
	case ScopeBase:
		if s.BaseID == "" {
			return fmt.Errorf("base subscription requires baseId")
		}
	case ScopeOutletDate:
		if s.OutletID == "" || s.ServiceDate == "" {
			return fmt.Errorf("outlet subscription requires outletId and serviceDate")
		}
	default:
		return fmt.Errorf("unknown subscription scope %q", s.Scope)
	}
	return nil
}

// Topic names the pub/sub channel the backend publishes this scope's events on.
func (s Subscription) Topic() string {
	switch s.Scope {
	case ScopeTrip:
		return "events:trip:" + s.TripID
	case ScopeBase:
		return "events:base:" + s.BaseID
	case ScopeOutletDate:
		return "events:outlet:" + s.OutletID + ":" + s.ServiceDate
	}
	return ""
}

// ControlMessage is sent by clients to change their subscriptions.
type ControlMessage struct {
	Action string `json:"action"`
	Subscription
}
