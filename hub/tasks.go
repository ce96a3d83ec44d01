package hub

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
	"taskboard/storage"
)

const maxTitleLength = 180

type fieldError struct {
	field    string
	messages []string
}

// fieldErrors marshals as an object keeping the order fields were added in.
type fieldErrors []fieldError

func (fe *fieldErrors) add(field, msg string) {
	for i := range *fe {
		if (*fe)[i].field == field {
			(*fe)[i].messages = append((*fe)[i].messages, msg)
			return
		}
	}
	*fe = append(*fe, fieldError{field: field, messages: []string{msg}})
}

func (fe fieldErrors) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range fe {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.field)
		if err != nil {
			return nil, err
		}
		msgs, err := json.Marshal(f.messages)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(msgs)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func validateTask(title, priority string) fieldErrors {
	var errs fieldErrors
	switch n := utf8.RuneCountInString(title); {
	case n == 0:
		errs.add("title", "This field is required.")
	case n > maxTitleLength:
		errs.add("title", fmt.Sprintf("Ensure this value has at most %d characters (it has %d).", maxTitleLength, n))
	}
	switch {
	case priority == "":
		errs.add("priority", "This field is required.")
	case !domain.ValidPriority(priority):
		errs.add("priority", fmt.Sprintf("Select a valid choice. %s is not one of the available choices.", priority))
	}
	return errs
}

// handleCreateTask validates the form and stores the task. Announcing it to
// the channel is left to the caller.
func (h *Hub) handleCreateTask(c echo.Context) error {
	user, err := h.userFromRequest(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": err.Error()})
	}
	ctx := c.Request().Context()
	key := c.Request().Header.Get(IdempotencyHeader)
	if key != "" && h.dedup != nil {
		added, err := h.dedup.Add(ctx, user, key)
		if err != nil {
			h.logger.WithError(err).Warn("idempotency check failed")
		} else if !added {
			return c.JSON(http.StatusConflict, map[string]string{"error": "duplicate request"})
		}
	}

	task, errs, err := h.createFromForm(c, user)
	if (errs != nil || err != nil) && key != "" && h.dedup != nil {
		if rerr := h.dedup.Remove(ctx, user, key); rerr != nil {
			h.logger.WithError(rerr).Warn("release idempotency key")
		}
	}
	if errs != nil {
		return c.JSON(http.StatusBadRequest, map[string]fieldErrors{"errors": errs})
	}
	if err != nil {
		h.logger.WithError(err).Error("create task")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
	h.logger.WithFields(log.Fields{"task": task.ID, "user": user}).Info("task created")
	return c.JSON(http.StatusCreated, map[string]domain.Task{"task": task})
}

func (h *Hub) createFromForm(c echo.Context, user string) (domain.Task, fieldErrors, error) {
	title := strings.TrimSpace(c.FormValue("title"))
	priority := strings.TrimSpace(c.FormValue("priority"))
	if errs := validateTask(title, priority); len(errs) > 0 {
		return domain.Task{}, errs, nil
	}
	task, err := h.store.CreateTask(c.Request().Context(), domain.Task{
		Title:     title,
		Priority:  priority,
		CreatedBy: user,
	})
	if errors.Is(err, storage.ErrDuplicateTitle) {
		var errs fieldErrors
		errs.add("title", "Task with this title already exists.")
		return domain.Task{}, errs, nil
	}
	return task, nil, err
}
