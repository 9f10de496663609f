package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	vaulterrors "github.com/memoryvault/client/internal/errors"
	"github.com/memoryvault/client/internal/types"
)

// ListMemories fetches the current user's full collection. The backend may
// answer with a bare array or a {"memories":[...]} envelope.
func ListMemories(ctx context.Context, httpClient HTTPClient, baseURL string) ([]types.Memory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u := fmt.Sprintf("%s/memories", baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := do(ctx, httpClient, httpReq, "list memories")
	if err != nil {
		return nil, err
	}
	defer drainAndClose(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp, "list memories", "Could not load memories")
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, vaulterrors.NewNetworkError("list memories", err)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var mems []types.Memory
		if err := json.Unmarshal(raw, &mems); err != nil {
			return nil, err
		}
		return mems, nil
	}
	var lr types.ListMemoriesResponse
	if err := json.Unmarshal(raw, &lr); err != nil {
		return nil, err
	}
	return lr.Memories, nil
}

// GetMemory fetches a single memory.
func GetMemory(ctx context.Context, httpClient HTTPClient, baseURL, memoryID string) (*types.Memory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := types.ValidateIDPresent(memoryID, "memoryId"); err != nil {
		return nil, err
	}
	u := fmt.Sprintf("%s/memories/%s", baseURL, url.PathEscape(memoryID))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := do(ctx, httpClient, httpReq, "get memory")
	if err != nil {
		return nil, err
	}
	defer drainAndClose(resp)

	if resp.StatusCode == http.StatusNotFound {
		return nil, &vaulterrors.NotFoundError{ID: memoryID}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp, "get memory", "Could not load memory")
	}
	var mem types.Memory
	if err := json.NewDecoder(resp.Body).Decode(&mem); err != nil {
		return nil, err
	}
	return &mem, nil
}

// CreateMemory uploads the draft as multipart/form-data. Every failure is
// reported as an UploadError; the cause stays reachable through Unwrap.
func CreateMemory(ctx context.Context, httpClient HTTPClient, baseURL string, draft types.MemoryDraft) (*types.Memory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := types.Validate(draft); err != nil {
		return nil, &vaulterrors.UploadError{Message: err.Error(), Err: err}
	}

	var buf bytes.Buffer
	contentType, err := writeDraft(&buf, draft)
	if err != nil {
		return nil, &vaulterrors.UploadError{Message: "Could not read media file", Err: err}
	}
	u := fmt.Sprintf("%s/memories", baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, &buf)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := do(ctx, httpClient, httpReq, "create memory")
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &vaulterrors.UploadError{Message: "Upload failed, check your connection", Err: err}
	}
	defer drainAndClose(resp)

	if !isSuccess(resp.StatusCode) {
		cause := statusError(resp, "create memory", "Upload failed")
		return nil, &vaulterrors.UploadError{Message: vaulterrors.Message(cause), StatusCode: resp.StatusCode, Err: cause}
	}
	var mem types.Memory
	if err := json.NewDecoder(resp.Body).Decode(&mem); err != nil {
		return nil, &vaulterrors.UploadError{Message: "Upload response was malformed", StatusCode: resp.StatusCode, Err: err}
	}
	if mem.ID == "" {
		return nil, &vaulterrors.UploadError{Message: "Upload response carried no id", StatusCode: resp.StatusCode}
	}
	return &mem, nil
}

func writeDraft(w io.Writer, draft types.MemoryDraft) (string, error) {
	mw := multipart.NewWriter(w)
	part, err := mw.CreateFormFile("file", draft.FileName)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, draft.File); err != nil {
		return "", err
	}
	fields := [][2]string{{"title", draft.Title}, {"description", draft.Description}}
	for _, tag := range draft.NormalizedTags() {
		fields = append(fields, [2]string{"tags", tag})
	}
	if draft.Location != nil {
		fields = append(fields,
			[2]string{"lat", strconv.FormatFloat(draft.Location.Lat, 'f', -1, 64)},
			[2]string{"lng", strconv.FormatFloat(draft.Location.Lng, 'f', -1, 64)},
		)
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return "", err
		}
	}
	if err := mw.Close(); err != nil {
		return "", err
	}
	return mw.FormDataContentType(), nil
}

// UpdateMemory sends a partial update. A 2xx response without a body yields
// (nil, nil) and the caller keeps its locally merged record.
func UpdateMemory(ctx context.Context, httpClient HTTPClient, baseURL, memoryID string, patch types.MemoryPatch) (*types.Memory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := types.ValidateIDPresent(memoryID, "memoryId"); err != nil {
		return nil, err
	}
	if err := types.Validate(patch); err != nil {
		return nil, vaulterrors.NewHTTPError(http.StatusBadRequest, err.Error(), "", "update memory")
	}
	body, err := json.Marshal(patch)
	if err != nil {
		return nil, err
	}
	u := fmt.Sprintf("%s/memories/%s", baseURL, url.PathEscape(memoryID))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := do(ctx, httpClient, httpReq, "update memory")
	if err != nil {
		return nil, err
	}
	defer drainAndClose(resp)

	if resp.StatusCode == http.StatusNotFound {
		return nil, &vaulterrors.NotFoundError{ID: memoryID}
	}
	if !isSuccess(resp.StatusCode) {
		return nil, statusError(resp, "update memory", "Could not save changes")
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, vaulterrors.NewNetworkError("update memory", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var mem types.Memory
	if err := json.Unmarshal(raw, &mem); err != nil {
		return nil, err
	}
	return &mem, nil
}

// DeleteMemory removes a memory at the backend.
func DeleteMemory(ctx context.Context, httpClient HTTPClient, baseURL, memoryID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := types.ValidateIDPresent(memoryID, "memoryId"); err != nil {
		return err
	}
	u := fmt.Sprintf("%s/memories/%s", baseURL, url.PathEscape(memoryID))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return err
	}
	resp, err := do(ctx, httpClient, httpReq, "delete memory")
	if err != nil {
		return err
	}
	defer drainAndClose(resp)
	if resp.StatusCode == http.StatusNotFound {
		return &vaulterrors.NotFoundError{ID: memoryID}
	}
	if !isSuccess(resp.StatusCode) {
		return statusError(resp, "delete memory", "Could not delete memory")
	}
	return nil
}

// Media is a downloaded media payload.
type Media struct {
	ContentType string
	Data        []byte
}

// DownloadMedia fetches the raw media bytes of a memory.
func DownloadMedia(ctx context.Context, httpClient HTTPClient, baseURL, memoryID string) (*Media, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := types.ValidateIDPresent(memoryID, "memoryId"); err != nil {
		return nil, err
	}
	u := fmt.Sprintf("%s/memories/%s/download", baseURL, url.PathEscape(memoryID))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "*/*")
	resp, err := do(ctx, httpClient, httpReq, "download memory")
	if err != nil {
		return nil, err
	}
	defer drainAndClose(resp)

	if resp.StatusCode == http.StatusNotFound {
		return nil, &vaulterrors.NotFoundError{ID: memoryID}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp, "download memory", "Could not download media")
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, vaulterrors.NewNetworkError("download memory", err)
	}
	return &Media{ContentType: resp.Header.Get("Content-Type"), Data: data}, nil
}
