package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"facette.io/natsort"
	"github.com/amp-labs/catalog-fsm/aggregate"
	"github.com/amp-labs/catalog-fsm/catalog"
	"github.com/amp-labs/catalog-fsm/comments"
	"github.com/amp-labs/catalog-fsm/orders"
	"github.com/amp-labs/catalog-fsm/remote"
	"github.com/amp-labs/catalog-fsm/session"
	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 64 << 10

type catalogView struct {
	State    aggregate.State                        `json:"state"`
	Category catalog.Category                       `json:"category"`
	Lists    map[catalog.Category][]catalog.Product `json:"lists"`
}

type categoryView struct {
	Category catalog.Category  `json:"category"`
	State    aggregate.State   `json:"state"`
	Products []catalog.Product `json:"products"`
}

type sessionView struct {
	State      session.State    `json:"state"`
	Events     []session.Event  `json:"events"`
	LoggedIn   bool             `json:"loggedIn"`
	SuperAdmin bool             `json:"superAdmin"`
	Profile    *session.Profile `json:"profile,omitempty"`
}

func (s *server) hello(w http.ResponseWriter, r *http.Request) {
	respond(w, r, http.StatusOK, map[string]string{"app": s.App, "message": "Hello ;)"})
}

func (s *server) products(w http.ResponseWriter, r *http.Request) {
	snap := s.Catalog.Snapshot()

	respond(w, r, http.StatusOK, catalogView{State: snap.State, Category: snap.Selected, Lists: snap.Lists})
}

func (s *server) refreshProducts(w http.ResponseWriter, r *http.Request) {
	s.Catalog.Request(r.Context())

	respond(w, r, http.StatusAccepted, map[string]aggregate.State{"state": s.Catalog.State()})
}

func categoryParam(w http.ResponseWriter, r *http.Request) (catalog.Category, bool) {
	c, ok := catalog.ParseCategory(chi.URLParam(r, "category"))
	if !ok {
		fail(w, r, http.StatusNotFound, "unknown_category")
	}

	return c, ok
}

func (s *server) category(w http.ResponseWriter, r *http.Request) {
	c, ok := categoryParam(w, r)
	if !ok {
		return
	}

	products := s.Catalog.List(c)
	if products == nil {
		products = []catalog.Product{}
	}

	respond(w, r, http.StatusOK, categoryView{Category: c, State: s.Catalog.State(), Products: products})
}

func (s *server) categoryIDs(w http.ResponseWriter, r *http.Request) {
	c, ok := categoryParam(w, r)
	if !ok {
		return
	}

	records := s.Catalog.Records(c)

	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}

	natsort.Sort(ids)

	respond(w, r, http.StatusOK, ids)
}

func (s *server) product(w http.ResponseWriter, r *http.Request) {
	c, ok := categoryParam(w, r)
	if !ok {
		return
	}

	p, ok := s.Catalog.Get(c, chi.URLParam(r, "id"))
	if !ok {
		fail(w, r, http.StatusNotFound, "product_not_found")

		return
	}

	respond(w, r, http.StatusOK, p)
}

func (s *server) selectCategory(w http.ResponseWriter, r *http.Request) {
	c, ok := categoryParam(w, r)
	if !ok {
		return
	}

	s.Catalog.Select(r.Context(), c)

	respond(w, r, http.StatusOK, map[string]catalog.Category{"category": s.Catalog.Selected()})
}

func (s *server) sessionView() sessionView {
	view := sessionView{State: s.Session.State(), Events: s.Session.Events()}
	view.LoggedIn = view.State == session.StateLoggedIn

	if p, ok := s.Session.Profile(); ok {
		view.Profile = &p
		view.SuperAdmin = p.Permissions.Root
	}

	return view
}

func (s *server) session(w http.ResponseWriter, r *http.Request) {
	respond(w, r, http.StatusOK, s.sessionView())
}

type loginRequest struct {
	Fragment string `json:"fragment"`
	Token    string `json:"token"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v); err != nil {
		fail(w, r, http.StatusBadRequest, "invalid_body")

		return false
	}

	return true
}

func (s *server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var err error
	if req.Fragment == "" && req.Token != "" {
		err = s.Session.LoginToken(r.Context(), req.Token)
	} else {
		err = s.Session.Login(r.Context(), req.Fragment)
	}

	// Malformed credentials are known before the machine settles.
	if errors.Is(err, session.ErrMalformedCredentials) {
		fail(w, r, http.StatusUnauthorized, "login_invalid")

		return
	}

	// The machine may still be busy with other work, so anything short of a final
	// answer is reported as accepted.
	view := s.sessionView()

	switch view.State {
	case session.StateLoginInvalid:
		fail(w, r, http.StatusUnauthorized, "login_invalid")
	case session.StateLoggedIn:
		respond(w, r, http.StatusOK, view)
	default:
		respond(w, r, http.StatusAccepted, view)
	}
}

func (s *server) logout(w http.ResponseWriter, r *http.Request) {
	s.Session.Logout(r.Context())

	respond(w, r, http.StatusOK, s.sessionView())
}

type threadView struct {
	LoadingState remote.State       `json:"loadingState"`
	SendingState comments.SendState `json:"sendingState"`
	Draft        string             `json:"draftMessage"`
	Messages     []comments.Message `json:"list"`
}

func (s *server) thread(w http.ResponseWriter, r *http.Request) {
	t := s.Comments.Thread()
	if t.Messages == nil {
		t.Messages = []comments.Message{}
	}

	respond(w, r, http.StatusOK, threadView{
		LoadingState: t.LoadingState,
		SendingState: t.SendingState,
		Draft:        t.Draft,
		Messages:     t.Messages,
	})
}

func (s *server) refreshComments(w http.ResponseWriter, r *http.Request) {
	s.Comments.Request(r.Context())

	respond(w, r, http.StatusAccepted, map[string]remote.State{"loadingState": s.Comments.Thread().LoadingState})
}

type commentRequest struct {
	Text string `json:"text"`
}

func (s *server) sendComment(w http.ResponseWriter, r *http.Request) {
	var req commentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	err := s.Comments.Send(r.Context(), req.Text)

	switch {
	case err == nil:
		respond(w, r, http.StatusAccepted, map[string]comments.SendState{"sendingState": s.Comments.Thread().SendingState})
	case errors.Is(err, comments.ErrEmptyMessage):
		fail(w, r, http.StatusBadRequest, "empty_message")
	case errors.Is(err, session.ErrLoginRequired):
		fail(w, r, http.StatusUnauthorized, "login_required")
	case errors.Is(err, comments.ErrSendInProgress):
		fail(w, r, http.StatusConflict, "send_in_progress")
	default:
		fail(w, r, http.StatusInternalServerError, "send_failed")
	}
}

type orderRequest struct {
	UserID  string    `json:"userId"`
	OrderID orders.ID `json:"orderId"`
	Status  string    `json:"status"`
}

func (s *server) updateOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if !decodeBody(w, r, &req) {
		return
	}

	status, ok := orders.ParseStatus(req.Status)
	if !ok {
		fail(w, r, http.StatusBadRequest, "unknown_status")

		return
	}

	change, err := s.Orders.SetStatus(r.Context(), req.UserID, req.OrderID, status)

	switch {
	case err == nil:
		respond(w, r, http.StatusOK, change)
	case errors.Is(err, orders.ErrMissingOrder):
		fail(w, r, http.StatusBadRequest, "invalid_order")
	case errors.Is(err, orders.ErrUnknownStatus):
		fail(w, r, http.StatusBadRequest, "unknown_status")
	case errors.Is(err, session.ErrLoginRequired):
		fail(w, r, http.StatusUnauthorized, "login_required")
	case errors.Is(err, orders.ErrForbidden):
		fail(w, r, http.StatusForbidden, "forbidden")
	case errors.Is(err, remote.ErrRejected):
		fail(w, r, http.StatusUnprocessableEntity, "update_rejected")
	default:
		fail(w, r, http.StatusBadGateway, "update_failed")
	}
}
