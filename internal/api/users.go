package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"accounts.api/internal/access"
	"accounts.api/internal/auth"
	"accounts.api/internal/store"
)

const codeTTL = 5 * time.Minute

var phonePattern = regexp.MustCompile(`^\+?[0-9]{9,15}$`)

type createUserRequest struct {
	Email          string           `json:"email"`
	PhoneNumber    string           `json:"phoneNumber"`
	Role           *int             `json:"role"`
	AccountBalance *decimal.Decimal `json:"accountBalance"`
	FirstName      string           `json:"firstName"`
	LastName       string           `json:"lastName"`
}

type updateProfileRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
}

type sendCodeRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

type verifyRequest struct {
	VerificationCode json.Number `json:"verificationCode"`
}

type setPasswordRequest struct {
	VerificationCode json.Number `json:"verificationCode"`
	Password         string      `json:"password"`
	ConfirmPassword  string      `json:"confirmPassword"`
}

type loginRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Password    string `json:"password"`
}

type userResponse struct {
	ID             string      `json:"id"`
	Email          string      `json:"email"`
	FirstName      string      `json:"first_name"`
	LastName       string      `json:"last_name"`
	PhoneNumber    string      `json:"phone_number"`
	AccountBalance int64       `json:"account_balance"`
	IsVerified     bool        `json:"is_verified"`
	Role           access.Role `json:"role"`
	ProfilePicture *string     `json:"profile_picture"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

type tokenResponse struct {
	Token string        `json:"token"`
	User  *userResponse `json:"user,omitempty"`
}

type reconciliationResponse struct {
	UserID       string `json:"user_id"`
	Cached       int64  `json:"cached_balance"`
	Derived      int64  `json:"derived_balance"`
	LiveCount    int    `json:"live_transactions"`
	DeletedCount int    `json:"deleted_transactions"`
	Consistent   bool   `json:"consistent"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	if err := s.policy.Require(p, access.ManageUsers); err != nil {
		s.fail(w, "user_create_failed", err, map[string]any{"actor_id": p.ID})
		return
	}

	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, "user_create_failed", err, map[string]any{"actor_id": p.ID})
		return
	}

	input, err := validateCreateUser(req)
	if err != nil {
		s.fail(w, "user_create_failed", err, map[string]any{"actor_id": p.ID})
		return
	}
	input.CreatedBy = p.ID

	user, err := s.store.CreateUser(r.Context(), input)
	if err != nil {
		s.fail(w, "user_create_failed", err, map[string]any{
			"actor_id":     p.ID,
			"phone_number": input.PhoneNumber,
			"role":         input.RoleID,
		})
		return
	}

	s.logEvent("user_created", map[string]any{
		"user_id":         user.ID,
		"actor_id":        p.ID,
		"role":            user.RoleName,
		"account_balance": user.AccountBalance,
	})
	writeData(w, http.StatusCreated, toUserResponse(user))
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	if err := s.policy.Require(p, access.ManageUsers); err != nil {
		s.fail(w, "users_list_failed", err, map[string]any{"actor_id": p.ID})
		return
	}

	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		s.fail(w, "users_list_failed", err, map[string]any{"actor_id": p.ID})
		return
	}

	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, toUserResponse(u))
	}
	writeData(w, http.StatusOK, out)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	id := mux.Vars(r)["id"]
	if err := s.policy.CanView(p, id); err != nil {
		s.fail(w, "user_get_failed", err, map[string]any{"actor_id": p.ID, "user_id": id})
		return
	}

	user, err := s.store.GetUser(r.Context(), id)
	if err != nil {
		s.fail(w, "user_get_failed", err, map[string]any{"actor_id": p.ID, "user_id": id})
		return
	}
	writeData(w, http.StatusOK, toUserResponse(user))
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	id := mux.Vars(r)["id"]
	if err := s.policy.Require(p, access.ViewAny); err != nil {
		s.fail(w, "reconcile_failed", err, map[string]any{"actor_id": p.ID, "user_id": id})
		return
	}

	rec, err := s.store.Reconcile(r.Context(), id)
	if err != nil {
		s.fail(w, "reconcile_failed", err, map[string]any{"actor_id": p.ID, "user_id": id})
		return
	}

	if !rec.Consistent() {
		s.logEvent("balance_drift_detected", map[string]any{
			"user_id":         rec.UserID,
			"cached_balance":  rec.Cached,
			"derived_balance": rec.Derived,
		})
	}
	writeData(w, http.StatusOK, reconciliationResponse{
		UserID:       rec.UserID,
		Cached:       rec.Cached,
		Derived:      rec.Derived,
		LiveCount:    rec.LiveCount,
		DeletedCount: rec.DeletedCount,
		Consistent:   rec.Consistent(),
	})
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	id := mux.Vars(r)["id"]
	if p.ID != id {
		s.fail(w, "profile_update_failed", access.ErrForbidden, map[string]any{"actor_id": p.ID, "user_id": id})
		return
	}

	var req updateProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, "profile_update_failed", err, map[string]any{"user_id": id})
		return
	}

	input, err := validateUpdateProfile(req)
	if err != nil {
		s.fail(w, "profile_update_failed", err, map[string]any{"user_id": id})
		return
	}

	user, err := s.store.UpdateProfile(r.Context(), id, input)
	if err != nil {
		s.fail(w, "profile_update_failed", err, map[string]any{"user_id": id})
		return
	}

	s.logEvent("profile_updated", map[string]any{"user_id": id})
	writeData(w, http.StatusOK, toUserResponse(user))
}

func (s *Server) handleSendCode(w http.ResponseWriter, r *http.Request) {
	var req sendCodeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, "code_send_failed", err, nil)
		return
	}
	phone := strings.TrimSpace(req.PhoneNumber)
	if phone == "" {
		s.fail(w, "code_send_failed", validationError("phoneNumber is required"), nil)
		return
	}

	exists, err := s.store.PhoneNumberExists(r.Context(), phone)
	if err != nil {
		s.fail(w, "code_send_failed", err, map[string]any{"phone_number": phone})
		return
	}
	if !exists {
		s.fail(w, "code_send_failed", store.ErrUserNotFound, map[string]any{"phone_number": phone})
		return
	}

	code, err := auth.NewCode()
	if err != nil {
		s.fail(w, "code_send_failed", err, map[string]any{"phone_number": phone})
		return
	}
	if err := s.sender.SendCode(r.Context(), phone, code); err != nil {
		s.fail(w, "code_send_failed", err, map[string]any{"phone_number": phone})
		return
	}
	token, err := s.tokens.IssueCode(phone, code, codeTTL)
	if err != nil {
		s.fail(w, "code_send_failed", err, map[string]any{"phone_number": phone})
		return
	}

	s.logEvent("code_sent", map[string]any{"phone_number": phone})
	writeData(w, http.StatusOK, tokenResponse{Token: token})
}

func (s *Server) handleVerifyUser(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, "user_verify_failed", err, nil)
		return
	}

	phone, err := s.checkCode(r, req.VerificationCode)
	if err != nil {
		s.fail(w, "user_verify_failed", err, nil)
		return
	}

	user, err := s.store.MarkVerified(r.Context(), phone)
	if err != nil {
		s.fail(w, "user_verify_failed", err, map[string]any{"phone_number": phone})
		return
	}

	s.logEvent("user_verified", map[string]any{"user_id": user.ID})
	writeData(w, http.StatusOK, toUserResponse(user))
}

// handleSetPassword requires a code sent to the user's own phone together
// with the code token it was issued under.
func (s *Server) handleSetPassword(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req setPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, "password_set_failed", err, map[string]any{"user_id": id})
		return
	}

	phone, err := s.checkCode(r, req.VerificationCode)
	if err != nil {
		s.fail(w, "password_set_failed", err, map[string]any{"user_id": id})
		return
	}
	if len(req.Password) < 8 {
		s.fail(w, "password_set_failed", validationError("password must be at least 8 characters"), map[string]any{"user_id": id})
		return
	}
	if req.Password != req.ConfirmPassword {
		s.fail(w, "password_set_failed", validationError("passwords do not match"), map[string]any{"user_id": id})
		return
	}

	user, err := s.store.GetUser(r.Context(), id)
	if err != nil {
		s.fail(w, "password_set_failed", err, map[string]any{"user_id": id})
		return
	}
	if user.PhoneNumber != phone {
		s.fail(w, "password_set_failed", errInvalidCode, map[string]any{"user_id": id})
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.fail(w, "password_set_failed", err, map[string]any{"user_id": id})
		return
	}
	user, err = s.store.SetPassword(r.Context(), id, hash)
	if err != nil {
		s.fail(w, "password_set_failed", err, map[string]any{"user_id": id})
		return
	}

	s.logEvent("password_set", map[string]any{"user_id": id})
	writeData(w, http.StatusOK, toUserResponse(user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, "login_failed", err, nil)
		return
	}
	phone := strings.TrimSpace(req.PhoneNumber)
	if phone == "" || req.Password == "" {
		s.fail(w, "login_failed", validationError("phoneNumber and password are required"), nil)
		return
	}

	creds, err := s.store.CredentialsByPhone(r.Context(), phone)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			err = errWrongCredentials
		}
		s.fail(w, "login_failed", err, map[string]any{"phone_number": phone})
		return
	}
	// Verification state is only revealed to a caller who knows the password.
	if err := auth.ComparePassword(creds.PasswordHash, req.Password); err != nil {
		s.fail(w, "login_failed", errWrongCredentials, map[string]any{"user_id": creds.User.ID})
		return
	}
	if !creds.User.IsVerified {
		s.fail(w, "login_failed", errNotVerified, map[string]any{"user_id": creds.User.ID})
		return
	}

	token, err := s.tokens.Issue(access.Principal{
		ID:   creds.User.ID,
		Role: access.Role{ID: creds.User.RoleID, Name: creds.User.RoleName},
	})
	if err != nil {
		s.fail(w, "login_failed", err, map[string]any{"user_id": creds.User.ID})
		return
	}

	user := toUserResponse(creds.User)
	s.logEvent("login_succeeded", map[string]any{"user_id": user.ID})
	writeData(w, http.StatusOK, tokenResponse{Token: token, User: &user})
}

// checkCode verifies the code from the request body against the code token
// sent by send-code in the "code" header and returns the token's phone number.
func (s *Server) checkCode(r *http.Request, raw json.Number) (string, error) {
	token := strings.TrimSpace(r.Header.Get("code"))
	if token == "" {
		return "", validationError("code token is required")
	}
	if raw == "" {
		return "", validationError("verificationCode is required")
	}
	code, err := raw.Int64()
	if err != nil || code < 0 || code > math.MaxInt32 {
		return "", errInvalidCode
	}
	phone, err := s.tokens.VerifyCode(token, int(code))
	if err != nil {
		return "", errInvalidCode
	}
	return phone, nil
}

func validateCreateUser(req createUserRequest) (store.CreateUserInput, error) {
	email := strings.TrimSpace(req.Email)
	phone := strings.TrimSpace(req.PhoneNumber)

	var missing []string
	if email == "" {
		missing = append(missing, "email")
	}
	if phone == "" {
		missing = append(missing, "phoneNumber")
	}
	if req.Role == nil {
		missing = append(missing, "role")
	}
	if len(missing) > 0 {
		return store.CreateUserInput{}, validationError(strings.Join(missing, ", ") + " is required")
	}

	if err := validateEmail(email); err != nil {
		return store.CreateUserInput{}, err
	}
	if !phonePattern.MatchString(phone) {
		return store.CreateUserInput{}, validationError("phoneNumber is invalid")
	}

	var opening int64
	if req.AccountBalance != nil {
		v, err := minorUnits(*req.AccountBalance, "accountBalance")
		if err != nil {
			return store.CreateUserInput{}, err
		}
		opening = v
	}

	return store.CreateUserInput{
		Email:          email,
		FirstName:      strings.TrimSpace(req.FirstName),
		LastName:       strings.TrimSpace(req.LastName),
		PhoneNumber:    phone,
		RoleID:         *req.Role,
		OpeningBalance: opening,
	}, nil
}

func validateUpdateProfile(req updateProfileRequest) (store.UpdateProfileInput, error) {
	input := store.UpdateProfileInput{
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		Email:     strings.TrimSpace(req.Email),
	}

	var missing []string
	if input.FirstName == "" {
		missing = append(missing, "firstName")
	}
	if input.LastName == "" {
		missing = append(missing, "lastName")
	}
	if input.Email == "" {
		missing = append(missing, "email")
	}
	if len(missing) > 0 {
		return store.UpdateProfileInput{}, validationError(strings.Join(missing, ", ") + " is required")
	}

	if err := validateEmail(input.Email); err != nil {
		return store.UpdateProfileInput{}, err
	}
	return input, nil
}

func validateEmail(email string) error {
	if email == "" {
		return validationError("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return validationError("email is invalid")
	}
	return nil
}

func toUserResponse(u store.User) userResponse {
	return userResponse{
		ID:             u.ID,
		Email:          u.Email,
		FirstName:      u.FirstName,
		LastName:       u.LastName,
		PhoneNumber:    u.PhoneNumber,
		AccountBalance: u.AccountBalance,
		IsVerified:     u.IsVerified,
		Role:           access.Role{ID: u.RoleID, Name: u.RoleName},
		ProfilePicture: u.ProfilePicture,
		CreatedAt:      u.CreatedAt,
		UpdatedAt:      u.UpdatedAt,
	}
}
