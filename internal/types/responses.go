package types

import "encoding/json"

// ------------------------------
// Response Types
// ------------------------------

// AuthResponse is returned by login and register. The backend sends either
// {"token":..,"user":{..}} or the user fields flattened next to the token.
type AuthResponse struct {
	Token         string `json:"token"`
	EncryptionKey string `json:"encryptionKey,omitempty"`
	User          User   `json:"user"`
}

// UnmarshalJSON decodes both payload shapes.
func (a *AuthResponse) UnmarshalJSON(b []byte) error {
	var raw struct {
		Token         string          `json:"token"`
		EncryptionKey string          `json:"encryptionKey"`
		User          json.RawMessage `json:"user"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	a.Token = raw.Token
	a.EncryptionKey = raw.EncryptionKey
	src := b
	if len(raw.User) > 0 && string(raw.User) != "null" {
		src = raw.User
	}
	return json.Unmarshal(src, &a.User)
}

// ListMemoriesResponse is the optional envelope around GET /memories. A bare
// JSON array is accepted too.
type ListMemoriesResponse struct {
	Memories []Memory `json:"memories"`
	Count    int      `json:"count"`
}

// ErrorBody is the backend's structured error payload.
type ErrorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Msg     string `json:"msg"`
}

// Text returns the first non-empty message field.
func (e ErrorBody) Text() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Error != "":
		return e.Error
	default:
		return e.Msg
	}
}
