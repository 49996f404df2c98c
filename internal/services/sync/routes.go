package sync

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/TheMichaelB/pickupsync/internal/models"
	"github.com/TheMichaelB/pickupsync/internal/transport"
)

var basePaths = map[models.EntityType]string{
	models.EntityLocation:      "/locations",
	models.EntityPickupRequest: "/pickup-requests",
	models.EntityBag:           "/bags",
	models.EntityProfile:       "/profiles",
	models.EntityPreferences:   "/preferences",
}

// reference is a payload field holding the id of a record of another type.
type reference struct {
	entity models.EntityType
	field  string
}

// references lists, per entity type, the fields elsewhere that point at it.
var references = map[models.EntityType][]reference{
	models.EntityLocation: {{entity: models.EntityPickupRequest, field: "location_id"}},
}

// localOnlyFields are bookkeeping fields never sent to the server.
var localOnlyFields = []string{"synced", "_isDeleted"}

func decodePayload(e models.QueueEntry) (map[string]interface{}, error) {
	body := make(map[string]interface{})
	if len(e.Data) == 0 {
		return body, nil
	}
	if err := json.Unmarshal(e.Data, &body); err != nil {
		return nil, fmt.Errorf("decode entry %d payload: %w: %v", e.ID, models.ErrInvalidRecord, err)
	}
	return body, nil
}

// buildRequest maps a queue entry onto its REST call.
func buildRequest(e models.QueueEntry, body map[string]interface{}) (transport.Request, error) {
	base, ok := basePaths[e.EntityType]
	if !ok {
		return transport.Request{}, fmt.Errorf("%w: unknown entity type %q", models.ErrInvalidRecord, e.EntityType)
	}

	for _, f := range localOnlyFields {
		delete(body, f)
	}

	req := transport.Request{
		Body:           body,
		IdempotencyKey: fmt.Sprintf("%s:%s:%d:%s", e.EntityType, e.Action, e.ID, e.RecordID),
	}
	item := base + "/" + url.PathEscape(e.RecordID)

	switch e.EntityType {
	case models.EntityProfile, models.EntityPreferences:
		userID, _ := body["user_id"].(string)
		if userID == "" {
			userID = e.RecordID
		}
		if e.Action == models.ActionDelete {
			return transport.Request{}, fmt.Errorf("%w: %s cannot be deleted", models.ErrInvalidRecord, e.EntityType)
		}
		req.Method = http.MethodPut
		req.Path = base + "/" + url.PathEscape(userID)
		return req, nil
	}

	switch e.Action {
	case models.ActionCreate:
		req.Method = http.MethodPost
		req.Path = base
	case models.ActionUpdate:
		req.Method = http.MethodPatch
		req.Path = item
	case models.ActionDelete:
		req.Method = http.MethodDelete
		req.Path = item
		req.Body = nil
	case models.ActionSetDefault:
		if e.EntityType != models.EntityLocation {
			return transport.Request{}, fmt.Errorf("%w: set_default on %s", models.ErrInvalidRecord, e.EntityType)
		}
		req.Method = http.MethodPost
		req.Path = item + "/default"
		req.Body = nil
	default:
		return transport.Request{}, fmt.Errorf("%w: unknown action %q", models.ErrInvalidRecord, e.Action)
	}
	return req, nil
}

// serverID extracts the id the server assigned, if any.
func serverID(resp map[string]interface{}) string {
	switch v := resp["id"].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}
