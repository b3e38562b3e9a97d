package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"
)

const routeParamChain = "chain"

type handlerFunc func(routeParams map[string]string, queryParams map[string][]string,
	requestBody []byte) (interface{}, *HandlerError)

func makeHandler(handler handlerFunc) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		var requestBody []byte
		if r.Body != nil {
			var err error
			requestBody, err = io.ReadAll(r.Body)
			if err != nil {
				sendErr(w, NewInternalServerHandlerError("Error reading the request body"))
				return
			}
		}
		response, hErr := handler(mux.Vars(r), r.URL.Query(), requestBody)
		if hErr != nil {
			sendErr(w, hErr)
			return
		}
		sendJSONResponse(w, response)
	}
}

func sendErr(w http.ResponseWriter, hErr *HandlerError) {
	log.Warnf("got error: %s", hErr)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(hErr.ErrorCode)
	sendJSONBody(w, hErr)
}

func sendJSONResponse(w http.ResponseWriter, response interface{}) {
	w.Header().Set("Content-Type", "application/json")
	sendJSONBody(w, response)
}

func sendJSONBody(w http.ResponseWriter, response interface{}) {
	b, err := json.Marshal(response)
	if err != nil {
		panic(err)
	}
	if _, err = fmt.Fprint(w, string(b)); err != nil {
		panic(err)
	}
}

func (s *Server) addRoutes(router *mux.Router) {
	router.HandleFunc("/", makeHandler(s.mainHandler))

	router.HandleFunc(
		fmt.Sprintf("/accounts/{%s}", routeParamChain),
		makeHandler(s.addAccountsHandler)).
		Methods("PUT")

	router.HandleFunc(
		fmt.Sprintf("/accounts/{%s}", routeParamChain),
		makeHandler(s.removeAccountsHandler)).
		Methods("DELETE")

	router.HandleFunc(
		fmt.Sprintf("/accounts/{%s}", routeParamChain),
		makeHandler(s.getAccountsHandler)).
		Methods("GET")

	router.HandleFunc(
		"/transactions/query",
		makeHandler(s.queryTransactionsHandler)).
		Methods("POST")

	router.HandleFunc(
		"/events",
		makeHandler(s.getEventsHandler)).
		Methods("GET")

	router.HandleFunc(
		"/actions/ignored",
		makeHandler(s.ignoreActionsHandler)).
		Methods("PUT")

	router.HandleFunc(
		"/actions/ignored",
		makeHandler(s.unignoreActionsHandler)).
		Methods("DELETE")

	router.HandleFunc("/ws", s.hub.ServeWS)
}
