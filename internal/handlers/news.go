package handlers

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/nexusbbs/nexus/internal/nexuserr"
	"github.com/nexusbbs/nexus/internal/protocol"
	"github.com/nexusbbs/nexus/store"
)

func toNewsSummary(n store.NewsItem) protocol.NewsItemSummary {
	return protocol.NewsItemSummary{
		ID: n.ID, Body: n.Body, Image: n.Image, Author: n.Author,
		CreatedAt: n.CreatedAt.Unix(), UpdatedAt: n.UpdatedAt.Unix(),
	}
}

// HandleNewsList returns every news item, newest-first.
func (d *Deps) HandleNewsList(callerID uint32) (*protocol.NewsListResponse, error) {
	if _, err := d.requireSession(callerID); err != nil {
		return nil, err
	}
	items, err := d.Store.ListNews()
	if err != nil {
		return nil, nexuserr.Database(err)
	}
	out := make([]protocol.NewsItemSummary, 0, len(items))
	for _, n := range items {
		out = append(out, toNewsSummary(n))
	}
	return &protocol.NewsListResponse{Response: protocol.Response{Type: protocol.TypeNewsList, Success: true}, Items: out}, nil
}

// HandleNewsShow fetches a single news item.
func (d *Deps) HandleNewsShow(callerID uint32, req protocol.NewsShowRequest) (*protocol.NewsShowResponse, error) {
	if _, err := d.requireSession(callerID); err != nil {
		return nil, err
	}
	item, err := d.Store.GetNews(req.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nexuserr.NotFound("news item %d not found", req.ID)
		}
		return nil, nexuserr.Database(err)
	}
	return &protocol.NewsShowResponse{
		Response: protocol.Response{Type: protocol.TypeNewsShow, Success: true}, Item: toNewsSummary(*item),
	}, nil
}

// HandleNewsCreate requires NewsCreate; a news item needs a body or an image (spec.md §3.1).
func (d *Deps) HandleNewsCreate(callerID uint32, req protocol.NewsCreateRequest) error {
	caller, err := d.requireSession(callerID)
	if err != nil {
		return err
	}
	if !hasPermission(caller.Admin, caller.Permissions, PermNewsCreate) {
		return nexuserr.PermissionDenied("missing NewsCreate permission")
	}
	if strings.TrimSpace(req.Body) == "" && strings.TrimSpace(req.Image) == "" {
		return nexuserr.Validation("empty_news", "a news item needs a body or an image")
	}
	id, err := d.Store.CreateNews(req.Body, req.Image, caller.Nickname)
	if err != nil {
		return nexuserr.Database(err)
	}
	item, err := d.Store.GetNews(id)
	if err != nil {
		return nexuserr.Database(err)
	}
	d.broadcastAll(protocol.NewsUpdated{Type: protocol.TypeNewsUpdated, Item: toNewsSummary(*item)})
	return nil
}

// HandleNewsEdit requires NewsEdit.
func (d *Deps) HandleNewsEdit(callerID uint32, req protocol.NewsEditRequest) error {
	caller, err := d.requireSession(callerID)
	if err != nil {
		return err
	}
	if !hasPermission(caller.Admin, caller.Permissions, PermNewsEdit) {
		return nexuserr.PermissionDenied("missing NewsEdit permission")
	}
	existing, err := d.Store.GetNews(req.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nexuserr.NotFound("news item %d not found", req.ID)
		}
		return nexuserr.Database(err)
	}
	body, image := req.Body, req.Image
	if body == "" {
		body = existing.Body
	}
	if image == "" {
		image = existing.Image
	}
	if strings.TrimSpace(body) == "" && strings.TrimSpace(image) == "" {
		return nexuserr.Validation("empty_news", "a news item needs a body or an image")
	}
	if err := d.Store.UpdateNews(req.ID, body, image); err != nil {
		return nexuserr.Database(err)
	}
	updated, err := d.Store.GetNews(req.ID)
	if err != nil {
		return nexuserr.Database(err)
	}
	d.broadcastAll(protocol.NewsUpdated{Type: protocol.TypeNewsUpdated, Item: toNewsSummary(*updated)})
	return nil
}

// HandleNewsDelete requires NewsDelete.
func (d *Deps) HandleNewsDelete(callerID uint32, req protocol.NewsDeleteRequest) error {
	caller, err := d.requireSession(callerID)
	if err != nil {
		return err
	}
	if !hasPermission(caller.Admin, caller.Permissions, PermNewsDelete) {
		return nexuserr.PermissionDenied("missing NewsDelete permission")
	}
	if err := d.Store.DeleteNews(req.ID); err != nil {
		return nexuserr.Database(err)
	}
	return nil
}
