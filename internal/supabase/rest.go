package supabase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"crm-backend/internal/remote"
)

func (s *Client) restURL(table string, filters []remote.Filter, extra url.Values) string {
	q := url.Values{}
	for _, f := range filters {
		q.Add(f.Column, f.String())
	}
	for k, vs := range extra {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u := fmt.Sprintf("%s/rest/v1/%s", s.config.URL, table)
	if enc := q.Encode(); enc != "" {
		u += "?" + enc
	}
	return u
}

func (s *Client) Select(ctx context.Context, table string, q remote.Query, dest interface{}) error {
	if err := remote.CheckIdent("table", table); err != nil {
		return err
	}
	if err := q.Validate(); err != nil {
		return err
	}

	extra := url.Values{}
	cols := q.Columns
	if cols == "" {
		cols = "*"
	}
	extra.Set("select", cols)
	if len(q.Order) > 0 {
		parts := make([]string, len(q.Order))
		for i, o := range q.Order {
			parts[i] = o.String()
		}
		extra.Set("order", strings.Join(parts, ","))
	}

	req, err := s.newRequest(ctx, http.MethodGet, s.restURL(table, q.Filters, extra), nil)
	if err != nil {
		return err
	}
	if q.Limit > 0 {
		req.Header.Set("Range-Unit", "items")
		req.Header.Set("Range", fmt.Sprintf("%d-%d", q.Offset, q.Offset+q.Limit-1))
	}

	data, err := s.do(req)
	if err != nil {
		return err
	}
	return remote.DecodeRows(data, dest)
}

func (s *Client) Insert(ctx context.Context, table string, row interface{}, dest interface{}) error {
	if err := remote.CheckIdent("table", table); err != nil {
		return err
	}
	req, err := s.newRequest(ctx, http.MethodPost, s.restURL(table, nil, nil), row)
	if err != nil {
		return err
	}
	req.Header.Set("Prefer", "return=representation")

	data, err := s.do(req)
	if err != nil {
		return err
	}
	return remote.DecodeRows(data, dest)
}

func (s *Client) Update(ctx context.Context, table string, filters []remote.Filter, patch interface{}, dest interface{}) error {
	if err := checkFilters(table, filters); err != nil {
		return err
	}
	req, err := s.newRequest(ctx, http.MethodPatch, s.restURL(table, filters, nil), patch)
	if err != nil {
		return err
	}
	req.Header.Set("Prefer", "return=representation")

	data, err := s.do(req)
	if err != nil {
		return err
	}
	return remote.DecodeRows(data, dest)
}

func (s *Client) Delete(ctx context.Context, table string, filters []remote.Filter) error {
	if err := checkFilters(table, filters); err != nil {
		return err
	}
	req, err := s.newRequest(ctx, http.MethodDelete, s.restURL(table, filters, nil), nil)
	if err != nil {
		return err
	}
	_, err = s.do(req)
	return err
}

func (s *Client) RPC(ctx context.Context, fn string, args interface{}, dest interface{}) error {
	if err := remote.CheckIdent("function", fn); err != nil {
		return err
	}
	if args == nil {
		args = struct{}{}
	}
	req, err := s.newRequest(ctx, http.MethodPost, fmt.Sprintf("%s/rest/v1/rpc/%s", s.config.URL, fn), args)
	if err != nil {
		return err
	}
	data, err := s.do(req)
	if err != nil {
		return err
	}
	if dest == nil || len(data) == 0 {
		return nil
	}
	return remote.DecodeRows(data, dest)
}

// checkFilters refuses unfiltered writes, which would touch every row.
func checkFilters(table string, filters []remote.Filter) error {
	if err := remote.CheckIdent("table", table); err != nil {
		return err
	}
	if len(filters) == 0 {
		return errors.New("remote: refusing to modify " + table + " without filters")
	}
	return remote.Where(filters...).Validate()
}
