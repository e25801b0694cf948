package http

import (
	"context"
	"net/http"
)

// Read and create handlers for the project directory. Lists are never
// encoded as null and every error goes through writeDomainError, so an
// unknown parent answers 404 with notFoundMsg.

// listAll serves everything fn returns.
func listAll[T any](fn func(ctx context.Context) ([]T, error)) http.HandlerFunc {
	return listBy("", func(ctx context.Context, _ string) ([]T, error) { return fn(ctx) }, "")
}

// listBy serves the children of the resource named by URL parameter param.
func listBy[T any](param string, fn func(ctx context.Context, parentID string) ([]T, error), notFoundMsg string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var parentID string
		if param != "" {
			parentID = urlParam(r, param)
		}
		items, err := fn(r.Context(), parentID)
		if err != nil {
			writeDomainError(w, err, notFoundMsg)
			return
		}
		if items == nil {
			items = []T{}
		}
		writeJSON(w, http.StatusOK, items)
	}
}

// getBy serves the resource whose ID is URL parameter param.
func getBy[T any](param string, fn func(ctx context.Context, id string) (*T, error), notFoundMsg string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		item, err := fn(r.Context(), urlParam(r, param))
		if err != nil {
			writeDomainError(w, err, notFoundMsg)
			return
		}
		writeJSON(w, http.StatusOK, item)
	}
}

// createFrom decodes a Req body, passes it to fn and answers 201.
func createFrom[Req, Res any](fn func(ctx context.Context, req Req) (*Res, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := readJSON[Req](w, r, maxRequestBodySize)
		if !ok {
			return
		}
		res, err := fn(r.Context(), req)
		if err != nil {
			writeDomainError(w, err, "not found")
			return
		}
		writeJSON(w, http.StatusCreated, res)
	}
}
