// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/LeeDigitalWorks/uploadgate/pkg/types"
)

// EventType names an attachment lifecycle event.
type EventType string

const (
	// EventAttachmentCreated fires once per new remote attachment record.
	EventAttachmentCreated EventType = "attachment:Created"
	// EventAttachmentDeleted fires after the record (and, with syncdelete,
	// the object) is gone.
	EventAttachmentDeleted EventType = "attachment:Deleted"
)

const eventVersion = "1.0"

// Event is the JSON document publishers deliver.
type Event struct {
	Version    string           `json:"eventVersion"`
	Name       EventType        `json:"eventName"`
	Time       time.Time        `json:"eventTime"`
	Sequencer  string           `json:"sequencer"`
	RequestID  string           `json:"requestId,omitempty"`
	Bucket     string           `json:"bucket"`
	Attachment AttachmentEntity `json:"attachment"`
}

// AttachmentEntity is the part of an attachment record carried by events.
type AttachmentEntity struct {
	ID        int64  `json:"id"`
	URL       string `json:"url"`
	FullURL   string `json:"fullUrl,omitempty"`
	Storage   string `json:"storage"`
	Category  string `json:"category,omitempty"`
	Filename  string `json:"filename"`
	Size      int64  `json:"size"`
	Mimetype  string `json:"mimetype,omitempty"`
	Checksum  string `json:"checksum,omitempty"`
	AdminID   int64  `json:"adminId,omitempty"`
	UserID    int64  `json:"userId,omitempty"`
	ImageSize string `json:"imageSize,omitempty"`
}

// NewAttachmentEntity copies the event-relevant fields of a.
func NewAttachmentEntity(a *types.Attachment) AttachmentEntity {
	e := AttachmentEntity{
		ID:       a.ID,
		URL:      a.URL,
		FullURL:  types.Deref(a.RemoteURL),
		Storage:  a.Storage.String(),
		Category: a.Category,
		Filename: a.Filename,
		Size:     a.Filesize,
		Mimetype: a.Mimetype,
		Checksum: a.Checksum,
		AdminID:  a.AdminID,
		UserID:   a.UserID,
	}
	if a.ImageWidth != nil && a.ImageHeight != nil {
		e.ImageSize = strconv.Itoa(*a.ImageWidth) + "x" + strconv.Itoa(*a.ImageHeight)
	}
	return e
}

// Marshal encodes e as publishers send it.
func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// ParseEvent decodes a published event.
func ParseEvent(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
