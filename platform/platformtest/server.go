// Package platformtest provides an in-memory platform served over httptest.
// It implements the subset of the platform API the bridge consumes: service
// info, the register (username check, hostings), account creation and
// login, the consent flow with poll URLs, batched calls on streams, events
// and accesses, access-info and streamed event reads.
package platformtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pilab-dev/bridge-hds/domain"
)

type stream struct {
	id       string
	name     string
	parentID *string
}

type access struct {
	id          string
	token       string
	name        string
	kind        string
	permissions []domain.Permission
}

type account struct {
	username string
	password string
	accesses map[string]*access
	streams  map[string]*stream
	events   []*domain.Event
}

type accessRequest struct {
	key      string
	request  map[string]any
	status   string
	endpoint string
	username string
}

// Server is a fake platform. All methods are safe for concurrent use.
type Server struct {
	srv *httptest.Server

	mu       sync.Mutex
	accounts map[string]*account
	requests map[string]*accessRequest
	failures map[string][]*domain.APIError
	lastTime float64
}

// New starts a fake platform. Callers must Close it.
func New() *Server {
	s := &Server{
		accounts: map[string]*account{},
		requests: map[string]*accessRequest{},
		failures: map[string][]*domain.APIError{},
	}
	s.srv = httptest.NewServer(s)
	return s
}

// Close shuts the server down.
func (s *Server) Close() {
	s.srv.Close()
}

// URL is the root URL of the server.
func (s *Server) URL() string {
	return s.srv.URL
}

// ServiceInfoURL is the service info URL to configure the bridge with.
func (s *Server) ServiceInfoURL() string {
	return s.srv.URL + "/service/info"
}

// CreateAccount creates an account with one app access holding permissions
// and returns its API endpoint.
func (s *Server) CreateAccount(username string, permissions []domain.Permission) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createAccountLocked(username, permissions)
}

func (s *Server) createAccountLocked(username string, permissions []domain.Permission) string {
	acc := s.accountLocked(username)
	return s.addAccessLocked(acc, "app", domain.AccessTypeApp, permissions).apiEndpoint
}

// CreatePersonalAccount registers username with password, as the account
// creation route does, and returns a personal API endpoint.
func (s *Server) CreatePersonalAccount(username, password string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc := s.accountLocked(username)
	acc.password = password
	return s.addAccessLocked(acc, "personal", domain.AccessTypePersonal, []domain.Permission{{StreamID: "*", Level: domain.LevelManage}}).apiEndpoint
}

// Accesses lists the accesses of an account.
func (s *Server) Accesses(username string) []domain.Access {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[username]
	if !ok {
		return nil
	}
	return s.listAccessesLocked(acc)
}

func (s *Server) accountLocked(username string) *account {
	acc, ok := s.accounts[username]
	if !ok {
		acc = &account{username: username, accesses: map[string]*access{}, streams: map[string]*stream{}}
		s.accounts[username] = acc
	}
	return acc
}

type createdAccess struct {
	*access
	apiEndpoint string
}

func (s *Server) addAccessLocked(acc *account, name, kind string, permissions []domain.Permission) createdAccess {
	token := strings.ReplaceAll(uuid.NewString(), "-", "")
	a := &access{id: uuid.NewString(), token: token, name: name, kind: kind, permissions: permissions}
	acc.accesses[token] = a
	return createdAccess{access: a, apiEndpoint: s.apiEndpoint(acc.username, token)}
}

func (s *Server) listAccessesLocked(acc *account) []domain.Access {
	out := make([]domain.Access, 0, len(acc.accesses))
	for _, a := range acc.accesses {
		out = append(out, s.accessView(acc, a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Server) accessView(acc *account, a *access) domain.Access {
	return domain.Access{
		ID:          a.id,
		Name:        a.name,
		Type:        a.kind,
		Token:       a.token,
		APIEndpoint: s.apiEndpoint(acc.username, a.token),
		Permissions: a.permissions,
	}
}

func (s *Server) apiEndpoint(username, token string) string {
	host := strings.TrimPrefix(s.srv.URL, "http://")
	return "http://" + token + "@" + host + "/" + username + "/"
}

// Accept simulates the end user granting the access request behind pollURL.
// The user account is created with the requested permissions and the base
// streams asked for in the client data. It returns the granted API endpoint.
func (s *Server) Accept(pollURL, username string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, err := s.requestForPollLocked(pollURL)
	if err != nil {
		return "", err
	}
	perms := permissionsFrom(req.request["requestedPermissions"])
	endpoint := s.createAccountLocked(username, perms)
	acc := s.accounts[username]
	for _, p := range perms {
		if p.StreamID == "*" {
			continue
		}
		if _, ok := acc.streams[p.StreamID]; !ok {
			acc.streams[p.StreamID] = &stream{id: p.StreamID, name: p.DefaultName}
		}
	}
	if cd, ok := req.request["clientData"].(map[string]any); ok {
		if list, ok := cd["app-web-auth:ensureBaseStreams"].([]any); ok {
			for _, raw := range list {
				m, _ := raw.(map[string]any)
				id, _ := m["id"].(string)
				if id == "" {
					continue
				}
				if _, exists := acc.streams[id]; exists {
					continue
				}
				name, _ := m["name"].(string)
				st := &stream{id: id, name: name}
				if pid, ok := m["parentId"].(string); ok {
					st.parentID = &pid
				}
				acc.streams[id] = st
			}
		}
	}
	req.status = domain.PollStatusAccepted
	req.endpoint = endpoint
	req.username = username
	return endpoint, nil
}

// Refuse simulates the end user refusing the access request behind pollURL.
func (s *Server) Refuse(pollURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, err := s.requestForPollLocked(pollURL)
	if err != nil {
		return err
	}
	req.status = domain.PollStatusRefused
	return nil
}

// FailNextCall makes the next batch call of method, on any account, fail
// with the given platform error id.
func (s *Server) FailNextCall(method, errorID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method] = append(s.failures[method], &domain.APIError{ID: errorID, Message: "injected failure"})
}

// Events returns the live (not trashed) events of an account, most recent first.
func (s *Server) Events(username string, eventType string) []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[username]
	if !ok {
		return nil
	}
	var out []domain.Event
	for i := len(acc.events) - 1; i >= 0; i-- {
		e := acc.events[i]
		if e.Trashed || (eventType != "" && e.Type != eventType) {
			continue
		}
		out = append(out, cloneEvent(e))
	}
	return out
}

// EventCount counts events of a type on an account, trashed ones included.
func (s *Server) EventCount(username string, eventType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[username]
	if !ok {
		return 0
	}
	n := 0
	for _, e := range acc.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

// HasStream reports whether the account has a stream with id.
func (s *Server) HasStream(username, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[username]
	if !ok {
		return false
	}
	_, ok = acc.streams[id]
	return ok
}

func (s *Server) requestForPollLocked(pollURL string) (*accessRequest, error) {
	key := pollURL[strings.LastIndex(pollURL, "/")+1:]
	req, ok := s.requests[key]
	if !ok {
		return nil, fmt.Errorf("unknown access request %q", pollURL)
	}
	return req, nil
}

func (s *Server) now() float64 {
	t := float64(time.Now().UnixNano()) / 1e9
	if t <= s.lastTime {
		t = s.lastTime + 0.000001
	}
	s.lastTime = t
	return t
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case r.Method == http.MethodGet && len(parts) == 2 && parts[0] == "service" && parts[1] == "info":
		writeJSON(w, http.StatusOK, domain.ServiceInfo{
			Access:   s.srv.URL + "/access/",
			API:      s.srv.URL + "/{username}/",
			Register: s.srv.URL + "/reg/",
			Name:     "platformtest",
		})
	case r.Method == http.MethodGet && len(parts) == 2 && parts[0] == "reg" && parts[1] == "hostings":
		writeJSON(w, http.StatusOK, map[string]any{"regions": map[string]any{"test": map[string]any{
			"zones": map[string]any{"local": map[string]any{
				"hostings": map[string]any{"platformtest": map[string]any{
					"available":     true,
					"availableCore": s.srv.URL + "/",
				}},
			}},
		}}})
	case r.Method == http.MethodGet && len(parts) == 3 && parts[0] == "reg" && parts[2] == "check_username":
		s.mu.Lock()
		_, reserved := s.accounts[parts[1]]
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"reserved": reserved})
	case r.Method == http.MethodPost && len(parts) == 1 && parts[0] == "users":
		s.handleCreateUser(w, r)
	case r.Method == http.MethodPost && len(parts) == 3 && parts[1] == "auth" && parts[2] == "login":
		s.handleLogin(w, r, parts[0])
	case r.Method == http.MethodPost && len(parts) == 1 && parts[0] == "access":
		s.handleAccessRequest(w, r)
	case r.Method == http.MethodGet && len(parts) == 2 && parts[0] == "access":
		s.handlePoll(w, parts[1])
	case r.Method == http.MethodPost && len(parts) == 1 && parts[0] != "":
		s.handleBatch(w, r, parts[0])
	case r.Method == http.MethodGet && len(parts) == 2 && parts[1] == "access-info":
		s.handleAccessInfo(w, r, parts[0])
	case r.Method == http.MethodGet && len(parts) == 2 && parts[1] == "events":
		s.handleEvents(w, r, parts[0])
	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"error": domain.APIError{ID: "unknown-resource", Message: r.URL.Path}})
	}
}

func (s *Server) handleAccessRequest(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": domain.APIError{ID: "invalid-request-structure", Message: err.Error()}})
		return
	}
	key := strings.ReplaceAll(uuid.NewString(), "-", "")

	s.mu.Lock()
	s.requests[key] = &accessRequest{key: key, request: body, status: domain.PollStatusNeedLogin}
	s.mu.Unlock()

	resp := map[string]any{
		"status":       domain.PollStatusNeedLogin,
		"code":         201,
		"key":          key,
		"url":          s.srv.URL + "/auth?key=" + key,
		"poll":         s.srv.URL + "/access/" + key,
		"poll_rate_ms": 1000,
	}
	for _, k := range []string{"requestingAppId", "requestedPermissions", "returnURL", "clientData"} {
		if v, ok := body[k]; ok {
			resp[k] = v
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handlePoll(w http.ResponseWriter, key string) {
	s.mu.Lock()
	req, ok := s.requests[key]
	var res domain.PollResult
	if ok {
		res = domain.PollResult{Status: req.status, APIEndpoint: req.endpoint, Username: req.username}
	}
	s.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": "ERROR", "id": "unknown-access-key"})
		return
	}
	switch res.Status {
	case domain.PollStatusAccepted:
		res.Code = http.StatusOK
	case domain.PollStatusRefused:
		res.Code = http.StatusForbidden
	default:
		res.Code = http.StatusCreated
	}
	writeJSON(w, res.Code, res)
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Email    string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Username == "" || body.Password == "" || body.Email == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": domain.APIError{ID: "invalid-parameters-format", Message: "username, password and email are required"}})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[body.Username]; exists {
		writeJSON(w, http.StatusConflict, map[string]any{"error": domain.APIError{ID: domain.ErrIDItemAlreadyExists, Message: "username " + body.Username}})
		return
	}
	acc := s.accountLocked(body.Username)
	acc.password = body.Password
	created := s.addAccessLocked(acc, "personal", domain.AccessTypePersonal, []domain.Permission{{StreamID: "*", Level: domain.LevelManage}})
	writeJSON(w, http.StatusCreated, map[string]any{"username": acc.username, "apiEndpoint": created.apiEndpoint})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request, username string) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
		AppID    string `json:"appId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": domain.APIError{ID: "invalid-request-structure", Message: err.Error()}})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[username]
	if !ok || body.Username != username || acc.password == "" || acc.password != body.Password || r.Header.Get("Origin") == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": domain.APIError{ID: "invalid-credentials", Message: "The given username/password pair is invalid."}})
		return
	}
	created := s.addAccessLocked(acc, body.AppID, domain.AccessTypePersonal, []domain.Permission{{StreamID: "*", Level: domain.LevelManage}})
	writeJSON(w, http.StatusOK, map[string]any{"token": created.token, "apiEndpoint": created.apiEndpoint})
}

func (s *Server) authenticate(w http.ResponseWriter, r *http.Request, username string) (*account, *access, bool) {
	acc, ok := s.accounts[username]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": domain.APIError{ID: "unknown-user", Message: username}})
		return nil, nil, false
	}
	acs, ok := acc.accesses[r.Header.Get("Authorization")]
	if !ok {
		writeJSON(w, http.StatusForbidden, map[string]any{"error": domain.APIError{ID: "invalid-access-token"}})
		return nil, nil, false
	}
	return acc, acs, true
}

func (s *Server) handleAccessInfo(w http.ResponseWriter, r *http.Request, username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, acs, ok := s.authenticate(w, r, username)
	if !ok {
		return
	}
	info := domain.AccessInfo{ID: acs.id, Name: acs.name, Type: acs.kind, Permissions: acs.permissions}
	info.User.Username = acc.username
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, username string) {
	q := r.URL.Query()
	params := map[string]any{}
	if v := q["streams[]"]; len(v) > 0 {
		params["streams"] = toAnySlice(v)
	}
	if v := q["types[]"]; len(v) > 0 {
		params["types"] = toAnySlice(v)
	}
	for _, k := range []string{"fromTime", "toTime", "limit"} {
		if v := q.Get(k); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]any{"error": domain.APIError{ID: "invalid-parameters-format", Message: k}})
				return
			}
			params[k] = f
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	acc, _, ok := s.authenticate(w, r, username)
	if !ok {
		return
	}
	res := s.eventsGet(acc, params)
	if res.Error != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": res.Error})
		return
	}
	if res.Events == nil {
		res.Events = []domain.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": res.Events, "meta": map[string]any{"serverTime": s.now()}})
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request, username string) {
	var calls []struct {
		Method string         `json:"method"`
		Params map[string]any `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&calls); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": domain.APIError{ID: "invalid-request-structure", Message: err.Error()}})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	acc, caller, ok := s.authenticate(w, r, username)
	if !ok {
		return
	}
	results := make([]domain.CallResult, 0, len(calls))
	for _, c := range calls {
		if queued := s.failures[c.Method]; len(queued) > 0 {
			s.failures[c.Method] = queued[1:]
			results = append(results, domain.CallResult{Error: queued[0]})
			continue
		}
		results = append(results, s.call(acc, caller, c.Method, c.Params))
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) call(acc *account, caller *access, method string, params map[string]any) domain.CallResult {
	switch method {
	case "accesses.get":
		return s.accessesGet(acc, caller)
	case "accesses.create":
		return s.accessesCreate(acc, caller, params)
	case "streams.create":
		return s.streamsCreate(acc, params)
	case "events.create":
		return s.eventsCreate(acc, params)
	case "events.get":
		return s.eventsGet(acc, params)
	case "events.update":
		return s.eventsUpdate(acc, params)
	case "events.delete":
		return s.eventsDelete(acc, params)
	default:
		return errorResult("invalid-method", "unknown method "+method)
	}
}

// accessesGet lists every access to a personal caller and only the caller
// itself otherwise.
func (s *Server) accessesGet(acc *account, caller *access) domain.CallResult {
	if caller.kind != domain.AccessTypePersonal {
		return domain.CallResult{Accesses: []domain.Access{s.accessView(acc, caller)}}
	}
	return domain.CallResult{Accesses: s.listAccessesLocked(acc)}
}

func (s *Server) accessesCreate(acc *account, caller *access, params map[string]any) domain.CallResult {
	if caller.kind != domain.AccessTypePersonal {
		return errorResult("forbidden", "only personal accesses can create app accesses")
	}
	name, _ := params["name"].(string)
	kind, _ := params["type"].(string)
	if name == "" {
		return errorResult("invalid-parameters-format", "missing access name")
	}
	if kind == "" {
		kind = domain.AccessTypeApp
	}
	for _, a := range acc.accesses {
		if a.name == name && a.kind == kind {
			return errorResult(domain.ErrIDItemAlreadyExists, "access "+name+" already exists")
		}
	}
	created := s.addAccessLocked(acc, name, kind, permissionsFrom(params["permissions"]))
	view := s.accessView(acc, created.access)
	return domain.CallResult{Access: &view}
}

func (s *Server) streamsCreate(acc *account, params map[string]any) domain.CallResult {
	id, _ := params["id"].(string)
	name, _ := params["name"].(string)
	if id == "" {
		return errorResult("invalid-parameters-format", "missing stream id")
	}
	if _, exists := acc.streams[id]; exists {
		return errorResult(domain.ErrIDItemAlreadyExists, "stream "+id+" already exists")
	}
	st := &stream{id: id, name: name}
	if pid, ok := params["parentId"].(string); ok && pid != "" {
		if _, exists := acc.streams[pid]; !exists {
			return errorResult(domain.ErrIDUnknownReferencedResource, "unknown parent stream "+pid)
		}
		st.parentID = &pid
	}
	acc.streams[id] = st
	return domain.CallResult{Stream: &domain.Stream{ID: st.id, Name: st.name, ParentID: st.parentID}}
}

func (s *Server) eventsCreate(acc *account, params map[string]any) domain.CallResult {
	streamIDs := toStrings(params["streamIds"])
	if len(streamIDs) == 0 {
		return errorResult("invalid-parameters-format", "missing streamIds")
	}
	for _, sid := range streamIDs {
		if _, ok := acc.streams[sid]; !ok {
			return errorResult(domain.ErrIDUnknownReferencedResource, "unknown stream "+sid)
		}
	}
	eventType, _ := params["type"].(string)
	content, err := json.Marshal(params["content"])
	if err != nil {
		return errorResult("invalid-parameters-format", err.Error())
	}
	now := s.now()
	ev := &domain.Event{
		ID:        uuid.NewString(),
		StreamIDs: streamIDs,
		Type:      eventType,
		Content:   content,
		Time:      now,
		Created:   now,
		Modified:  now,
	}
	if t, ok := params["time"].(float64); ok {
		ev.Time = t
	}
	acc.events = append(acc.events, ev)
	out := cloneEvent(ev)
	return domain.CallResult{Event: &out}
}

func (s *Server) eventsGet(acc *account, params map[string]any) domain.CallResult {
	streams := toStrings(params["streams"])
	for _, sid := range streams {
		if _, ok := acc.streams[sid]; !ok {
			return errorResult(domain.ErrIDUnknownReferencedResource, "unknown stream "+sid)
		}
	}
	types := toStrings(params["types"])
	fromTime, hasFrom := params["fromTime"].(float64)
	toTime, hasTo := params["toTime"].(float64)

	var matched []domain.Event
	for _, e := range acc.events {
		if e.Trashed {
			continue
		}
		if len(types) > 0 && !contains(types, e.Type) {
			continue
		}
		if len(streams) > 0 && !s.inAnyStream(acc, e, streams) {
			continue
		}
		if hasFrom && e.Time < fromTime {
			continue
		}
		if hasTo && e.Time > toTime {
			continue
		}
		matched = append(matched, cloneEvent(e))
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].Time > matched[j].Time })
	if limit, ok := params["limit"].(float64); ok && int(limit) < len(matched) {
		matched = matched[:int(limit)]
	}
	if matched == nil {
		matched = []domain.Event{}
	}
	return domain.CallResult{Events: matched}
}

// inAnyStream matches events filed in one of streams or in a descendant.
func (s *Server) inAnyStream(acc *account, e *domain.Event, streams []string) bool {
	for _, sid := range e.StreamIDs {
		for cur := sid; ; {
			if contains(streams, cur) {
				return true
			}
			st, ok := acc.streams[cur]
			if !ok || st.parentID == nil {
				break
			}
			cur = *st.parentID
		}
	}
	return false
}

func (s *Server) findEvent(acc *account, id string) *domain.Event {
	for _, e := range acc.events {
		if e.ID == id {
			return e
		}
	}
	return nil
}

func (s *Server) eventsUpdate(acc *account, params map[string]any) domain.CallResult {
	id, _ := params["id"].(string)
	ev := s.findEvent(acc, id)
	if ev == nil {
		return errorResult(domain.ErrIDUnknownResource, "unknown event "+id)
	}
	update, _ := params["update"].(map[string]any)
	if raw, ok := update["streamIds"]; ok {
		streamIDs := toStrings(raw)
		for _, sid := range streamIDs {
			if _, ok := acc.streams[sid]; !ok {
				return errorResult(domain.ErrIDUnknownReferencedResource, "unknown stream "+sid)
			}
		}
		ev.StreamIDs = streamIDs
	}
	if raw, ok := update["content"]; ok {
		content, err := json.Marshal(raw)
		if err != nil {
			return errorResult("invalid-parameters-format", err.Error())
		}
		ev.Content = content
	}
	ev.Modified = s.now()
	out := cloneEvent(ev)
	return domain.CallResult{Event: &out}
}

// eventsDelete trashes a live event and removes a trashed one.
func (s *Server) eventsDelete(acc *account, params map[string]any) domain.CallResult {
	id, _ := params["id"].(string)
	for i, e := range acc.events {
		if e.ID != id {
			continue
		}
		if !e.Trashed {
			e.Trashed = true
			e.Modified = s.now()
			out := cloneEvent(e)
			return domain.CallResult{Event: &out}
		}
		acc.events = append(acc.events[:i], acc.events[i+1:]...)
		return domain.CallResult{EventDeletion: &domain.ItemDeletion{ID: id}}
	}
	return errorResult(domain.ErrIDUnknownResource, "unknown event "+id)
}

func errorResult(id, msg string) domain.CallResult {
	return domain.CallResult{Error: &domain.APIError{ID: id, Message: msg}}
}

func cloneEvent(e *domain.Event) domain.Event {
	out := *e
	out.StreamIDs = append([]string(nil), e.StreamIDs...)
	out.Content = append([]byte(nil), e.Content...)
	return out
}

func permissionsFrom(v any) []domain.Permission {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var perms []domain.Permission
	_ = json.Unmarshal(raw, &perms)
	return perms
}

func toStrings(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, x := range t {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{t}
	}
	return nil
}

func toAnySlice(v []string) []any {
	out := make([]any, len(v))
	for i, s := range v {
		out[i] = s
	}
	return out
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
