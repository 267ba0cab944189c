// Package web exposes the filtered way query over HTTP.
package web

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/hauke96/sigolo/v2"

	"github.com/substack/osmpbf/index"
	ownIo "github.com/substack/osmpbf/io"
	"github.com/substack/osmpbf/query"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func NewErrorResponse(message string, err error) ErrorResponse {
	response := ErrorResponse{Error: message}
	if err != nil {
		response.Details = err.Error()
	}
	return response
}

// StartServer serves the query API for the given PBF file on the given port. It blocks until
// the server stops.
func StartServer(port string, pbfPath string) {
	router := initRouter(pbfPath)
	sigolo.Infof("Start server on port %s for PBF file %s", port, pbfPath)
	err := http.ListenAndServe(":"+port, router)
	sigolo.FatalCheck(err)
}

func initRouter(pbfPath string) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/query", func(writer http.ResponseWriter, request *http.Request) {
		handleQuery(writer, request, pbfPath)
	}).Methods(http.MethodPost)
	return router
}

// handleQuery runs the filter from the request body against the PBF file and responds with
// GeoJSON. Every request uses its own reader, since one reader only supports one query at a
// time.
func handleQuery(writer http.ResponseWriter, request *http.Request, pbfPath string) {
	writer.Header().Set("Access-Control-Allow-Origin", "*")
	writer.Header().Set("Content-Type", "application/json")

	filterBytes, err := io.ReadAll(request.Body)
	if err != nil {
		sigolo.Errorf("Error reading HTTP body of request to '/query': %+v", err)
		writeError(writer, http.StatusInternalServerError, NewErrorResponse("Error reading HTTP body.", nil))
		return
	}

	filterString := string(filterBytes)
	sigolo.Infof("Query: %s", filterString)

	filterExpression, err := query.ParseFilter(filterString)
	if err != nil {
		sigolo.Errorf("Error parsing filter: %+v", err)
		writeError(writer, http.StatusBadRequest, NewErrorResponse(fmt.Sprintf("Error parsing filter: %s", err.Error()), err))
		return
	}

	reader, err := index.NewIndexedReaderFromPath(pbfPath)
	if err != nil {
		sigolo.Errorf("Error opening PBF file %s: %+v", pbfPath, err)
		writeError(writer, http.StatusInternalServerError, NewErrorResponse("Error opening PBF file.", err))
		return
	}
	defer func() {
		err = reader.Close()
		if err != nil {
			sigolo.Errorf("Error closing PBF file %s: %+v", pbfPath, err)
		}
	}()

	collector := ownIo.NewCollector()
	err = reader.ReadWaysAndDeps(filterExpression.Applies, collector.VisitElement)
	if err != nil {
		sigolo.Errorf("Error executing query: %+v", err)
		writeError(writer, http.StatusInternalServerError, NewErrorResponse(fmt.Sprintf("Error executing query: %s", err.Error()), err))
		return
	}

	sigolo.Debugf("Found %d ways and %d nodes", len(collector.Ways), len(collector.Nodes))

	err = ownIo.WriteGeoJson(collector, writer)
	if err != nil {
		sigolo.Errorf("Error writing query result: %+v", err)
		writeError(writer, http.StatusInternalServerError, NewErrorResponse(fmt.Sprintf("Error writing query result: %s", err.Error()), err))
	}
}

func writeError(writer http.ResponseWriter, status int, response ErrorResponse) {
	writer.WriteHeader(status)

	responseBytes, err := json.Marshal(response)
	if err != nil {
		sigolo.Errorf("Error marshalling error response object: %+v", err)
		return
	}

	_, err = writer.Write(responseBytes)
	if err != nil {
		sigolo.Errorf("Error writing error response: %+v", err)
	}
}
