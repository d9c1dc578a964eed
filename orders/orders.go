// Package orders lets an administrator move a customer's order through its statuses.
package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/amp-labs/catalog-fsm/catalog"
	"github.com/amp-labs/catalog-fsm/config"
	"github.com/amp-labs/catalog-fsm/logger"
	"github.com/amp-labs/catalog-fsm/remote"
	"github.com/amp-labs/catalog-fsm/session"
	"github.com/tidwall/gjson"
)

// PermissionPatchStatus is the permission an administrator needs to change a status.
const PermissionPatchStatus = "order-status/patch"

var (
	ErrMissingOrder  = errors.New("user id and order id are required")
	ErrUnknownStatus = errors.New("unknown order status")
	ErrForbidden     = errors.New("changing order status is not permitted")
)

// Status is where an order stands.
type Status string

const (
	StatusDraft          Status = "draft"
	StatusRegistered     Status = "registered"
	StatusProcessing     Status = "processing"
	StatusPaymentPending Status = "payment_pending"
	StatusPreparing      Status = "preparing"
	StatusShipping       Status = "shipping"
	StatusDelayed        Status = "delayed"
	StatusOnHold         Status = "on_hold"
	StatusCanceled       Status = "canceled"
	StatusRefunded       Status = "refunded"
)

// Statuses lists every status in lifecycle order.
func Statuses() []Status {
	return []Status{
		StatusDraft, StatusRegistered, StatusProcessing, StatusPaymentPending, StatusPreparing,
		StatusShipping, StatusDelayed, StatusOnHold, StatusCanceled, StatusRefunded,
	}
}

// ParseStatus accepts a status name, ignoring case and surrounding blanks.
func ParseStatus(s string) (Status, bool) {
	status := Status(strings.ToLower(strings.TrimSpace(s)))

	return status, slices.Contains(Statuses(), status)
}

// ID is an order id. The server numbers orders but older records carry strings.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	r := gjson.ParseBytes(b)

	switch r.Type {
	case gjson.String, gjson.Number:
		*id = ID(r.String())
	case gjson.Null:
		*id = ""
	default:
		return fmt.Errorf("order id: unexpected %s", r.Type)
	}

	return nil
}

// Item is one cart line.
type Item struct {
	ProductID   string  `json:"productId"`
	MarketPrice float64 `json:"marketPrice"`
	AgencyPrice float64 `json:"agencyPrice"`
	Qty         float64 `json:"qty"`
}

// Order is a customer order as the admin endpoint returns it.
type Order struct {
	ID              ID                          `json:"id"`
	Status          Status                      `json:"status"`
	ItemList        map[catalog.Category][]Item `json:"itemList,omitempty"`
	ShippingInfo    map[string]string           `json:"shippingInfo,omitempty"`
	SumDisplayPrice float64                     `json:"sumDisplayPrice,omitempty"`
	SumSalePrice    float64                     `json:"sumSalePrice,omitempty"`
}

// Change is the body of a status change and of its answer.
type Change struct {
	UserID string `json:"userId"`
	Order  Order  `json:"order"`
}

// Admins reports who is signed in.
type Admins interface {
	Profile() (session.Profile, bool)
}

// Updater changes order statuses on behalf of the signed-in administrator.
type Updater struct {
	request *remote.APIRequest[Change]
	admins  Admins
}

// NewUpdater builds the update-order request against api.
func NewUpdater(api config.API, admins Admins, opts ...remote.Option) *Updater {
	opts = append(opts, remote.WithMethod(http.MethodPatch))

	return &Updater{
		request: remote.NewAPIRequest[Change]("update-order-request", api.UpdateOrder(), opts...),
		admins:  admins,
	}
}

// SetStatus moves userID's order to status and returns the order the server stored.
// The signed-in user must hold PermissionPatchStatus or root.
func (u *Updater) SetStatus(ctx context.Context, userID string, orderID ID, status Status) (Change, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" || orderID == "" {
		return Change{}, ErrMissingOrder
	}

	if !slices.Contains(Statuses(), status) {
		return Change{}, fmt.Errorf("%w: %q", ErrUnknownStatus, status)
	}

	admin, ok := u.admins.Profile()
	if !ok {
		return Change{}, session.ErrLoginRequired
	}

	if !admin.Permissions.Has(PermissionPatchStatus) {
		return Change{}, fmt.Errorf("%w: %s", ErrForbidden, admin.ID)
	}

	body, err := json.Marshal(Change{UserID: userID, Order: Order{ID: orderID, Status: status}})
	if err != nil {
		return Change{}, err
	}

	change, err := u.request.Do(ctx, remote.Params{
		Header: http.Header{
			"User-Id":    {admin.ID},
			"User-Token": {admin.Token},
		},
		Body: body,
	})
	if err != nil {
		return Change{}, logger.AnnotateError(err, "order", string(orderID), "orderStatus", string(status))
	}

	logger.Get(ctx).Info("order status changed",
		"admin", admin.ID, "user", userID, "order", string(orderID), "orderStatus", string(change.Order.Status))

	return change, nil
}
