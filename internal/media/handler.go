package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"campus-chat/internal/apperr"
	"campus-chat/internal/chat"
	"campus-chat/internal/group"
	"campus-chat/internal/httpx"
	"campus-chat/internal/identity"
	"campus-chat/internal/models"
)

// multipartSlack covers form boundaries and fields around the file part.
const multipartSlack = 1 << 20

type DirectMessages interface {
	Get(ctx context.Context, actor identity.Principal, id string) (*models.DirectMessage, error)
	Send(ctx context.Context, actor identity.Principal, req chat.SendRequest) (*models.DirectMessage, error)
}

type GroupMessages interface {
	GetMessage(ctx context.Context, actor identity.Principal, id string) (*models.GroupMessage, error)
	Send(ctx context.Context, actor identity.Principal, groupID string, req group.SendRequest) (*models.GroupMessage, error)
}

type Handler struct {
	svc    *Service
	direct DirectMessages
	groups GroupMessages
}

func NewHandler(svc *Service, direct DirectMessages, groups GroupMessages) *Handler {
	return &Handler{svc: svc, direct: direct, groups: groups}
}

// ChatRoutes registers the upload and media paths under /chat.
func (h *Handler) ChatRoutes(r chi.Router) {
	r.Post("/upload-media", h.UploadDirect)
	r.Get("/media/{messageId}", h.serve(false, "inline"))
	r.Get("/media/stream/{messageId}", h.serve(false, ""))
	r.Get("/media/download/{messageId}", h.serve(false, "attachment"))
	r.Get("/media/thumbnail/{messageId}", h.serve(true, "inline"))
}

func (h *Handler) AssetRoutes(r chi.Router) {
	r.Get("/assets/{key}", h.Asset)
}

type upload struct {
	data        []byte
	name        string
	contentType string
}

func readUpload(w http.ResponseWriter, r *http.Request, limit int64) (*upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartSlack)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apperr.Validation("file exceeds the upload limit")
		}
		return nil, apperr.Validation("invalid multipart form")
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, apperr.Validation("file is required")
	}
	defer file.Close()
	return readPart(file, header, limit)
}

// readPart reads at most limit+1 bytes so an oversized file is detected
// without buffering all of it.
func readPart(file multipart.File, header *multipart.FileHeader, limit int64) (*upload, error) {
	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return nil, apperr.Validation("could not read file")
	}
	return &upload{data: data, name: header.Filename, contentType: header.Header.Get("Content-Type")}, nil
}

// UploadDirect stores a chat attachment and sends it to recipientId. Without
// a recipient the file is stored as a profile-style asset.
func (h *Handler) UploadDirect(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	limits := h.svc.Limits()
	up, err := readUpload(w, r, max(limits.ChatMaxBytes, limits.ProfileMaxBytes))
	if err != nil {
		httpx.Error(w, err)
		return
	}
	ctx := r.Context()

	recipient := r.FormValue("recipientId")
	if recipient == "" {
		att, err := h.svc.StoreAsset(ctx, up.data, up.name, up.contentType)
		if err != nil {
			httpx.Error(w, err)
			return
		}
		httpx.JSON(w, http.StatusCreated, map[string]any{
			"key":         att.StorageKey,
			"url":         "/api/media/assets/" + att.StorageKey,
			"fileName":    att.FileName,
			"fileSize":    att.FileSize,
			"contentType": att.ContentType,
		})
		return
	}

	att, err := h.svc.StoreChat(ctx, up.data, up.name, up.contentType)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	msg, err := h.direct.Send(ctx, actor, chat.SendRequest{
		RecipientID: recipient,
		Content:     r.FormValue("content"),
		Type:        string(models.TypeForContentType(att.ContentType)),
		Attachment:  att,
	})
	if err != nil {
		h.discard(ctx, att)
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, msg)
}

func (h *Handler) UploadGroup(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	up, err := readUpload(w, r, h.svc.Limits().ChatMaxBytes)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	ctx := r.Context()
	att, err := h.svc.StoreChat(ctx, up.data, up.name, up.contentType)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	msg, err := h.groups.Send(ctx, actor, chi.URLParam(r, "groupId"), group.SendRequest{
		Content:    r.FormValue("content"),
		Type:       string(models.TypeForContentType(att.ContentType)),
		Attachment: att,
	})
	if err != nil {
		h.discard(ctx, att)
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, msg)
}

// discard removes bytes whose message was never persisted.
func (h *Handler) discard(ctx context.Context, att *models.Attachment) {
	if err := h.svc.Remove(ctx, att.StorageKey); err != nil {
		h.svc.log.Warn().Err(err).Str("key", att.StorageKey).Msg("orphaned upload not removed")
	}
}

type owned struct {
	typ        models.MessageType
	attachment *models.Attachment
	modified   time.Time
}

// locate resolves the message owning the media and applies its access rule:
// participants for direct messages, current members for group messages.
func (h *Handler) locate(ctx context.Context, actor identity.Principal, messageID string) (*owned, error) {
	dm, err := h.direct.Get(ctx, actor, messageID)
	if err == nil {
		return ownedBy(dm.Type, dm.Attachment, dm.Timestamp)
	}
	if !apperr.Is(err, apperr.KindNotFound) {
		return nil, err
	}
	gm, err := h.groups.GetMessage(ctx, actor, messageID)
	if err != nil {
		return nil, err
	}
	return ownedBy(gm.Type, gm.Attachment, gm.Timestamp)
}

func ownedBy(typ models.MessageType, att *models.Attachment, ts time.Time) (*owned, error) {
	if att == nil || att.StorageKey == "" {
		return nil, apperr.NotFound("message has no attachment")
	}
	return &owned{typ: typ, attachment: att, modified: ts}, nil
}

func (h *Handler) serve(thumb bool, disposition string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := httpx.Actor(w, r)
		if !ok {
			return
		}
		ctx := r.Context()
		o, err := h.locate(ctx, actor, chi.URLParam(r, "messageId"))
		if err != nil {
			httpx.Error(w, err)
			return
		}

		var (
			data        []byte
			contentType string
			name        = o.attachment.FileName
		)
		if thumb {
			data, err = h.svc.Thumbnail(ctx, o.attachment.StorageKey)
			contentType = ThumbnailType(o.attachment)
			name = "thumb-" + name
		} else {
			data, err = h.svc.Retrieve(ctx, o.attachment.StorageKey)
			contentType = DeliveryType(o.typ, o.attachment)
		}
		if err != nil {
			httpx.Error(w, err)
			return
		}

		w.Header().Set("Content-Type", contentType)
		if disposition != "" {
			w.Header().Set("Content-Disposition", fmt.Sprintf("%s; filename=%q", disposition, name))
		}
		http.ServeContent(w, r, name, o.modified, bytes.NewReader(data))
	}
}

func (h *Handler) Asset(w http.ResponseWriter, r *http.Request) {
	if _, ok := httpx.Actor(w, r); !ok {
		return
	}
	key := chi.URLParam(r, "key")
	data, err := h.svc.Asset(r.Context(), key)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	w.Header().Set("Content-Type", sniff(data, "", strings.ToLower(filepath.Ext(key))))
	http.ServeContent(w, r, key, time.Time{}, bytes.NewReader(data))
}
