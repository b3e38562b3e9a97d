package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/folionet/foliod/chain"
	"github.com/folionet/foliod/dbaccess"
	"github.com/folionet/foliod/events"
)

func (s *Server) mainHandler(_ map[string]string, _ map[string][]string, _ []byte) (interface{}, *HandlerError) {
	return "foliod is running", nil
}

func parseChain(routeParams map[string]string) (chain.Chain, *HandlerError) {
	c, err := chain.FromString(routeParams[routeParamChain])
	if err != nil {
		return chain.Chain{}, NewHandlerError(http.StatusUnprocessableEntity, err.Error())
	}
	return c, nil
}

type accountsRequest struct {
	Addresses []string `json:"addresses"`
	Label     string   `json:"label"`
}

func (s *Server) addAccountsHandler(routeParams map[string]string, _ map[string][]string,
	requestBody []byte) (interface{}, *HandlerError) {

	c, hErr := parseChain(routeParams)
	if hErr != nil {
		return nil, hErr
	}
	request := &accountsRequest{}
	if err := json.Unmarshal(requestBody, request); err != nil {
		return nil, NewHandlerError(http.StatusUnprocessableEntity,
			"The request body is not in the correct format")
	}
	if len(request.Addresses) == 0 {
		return nil, NewHandlerError(http.StatusUnprocessableEntity, "No addresses given")
	}

	if err := s.taskManager.AddAccounts(context.Background(), c, request.Addresses, request.Label); err != nil {
		return nil, convertError(err)
	}
	return map[string]interface{}{"added": request.Addresses}, nil
}

func (s *Server) removeAccountsHandler(routeParams map[string]string, _ map[string][]string,
	requestBody []byte) (interface{}, *HandlerError) {

	c, hErr := parseChain(routeParams)
	if hErr != nil {
		return nil, hErr
	}
	request := &accountsRequest{}
	if err := json.Unmarshal(requestBody, request); err != nil {
		return nil, NewHandlerError(http.StatusUnprocessableEntity,
			"The request body is not in the correct format")
	}
	if len(request.Addresses) == 0 {
		return nil, NewHandlerError(http.StatusUnprocessableEntity, "No addresses given")
	}

	if err := s.taskManager.RemoveAccounts(c, request.Addresses); err != nil {
		return nil, convertError(err)
	}
	return map[string]interface{}{"removed": request.Addresses}, nil
}

func (s *Server) getAccountsHandler(routeParams map[string]string, _ map[string][]string,
	_ []byte) (interface{}, *HandlerError) {

	c, hErr := parseChain(routeParams)
	if hErr != nil {
		return nil, hErr
	}
	accounts, err := s.db.Accounts(c.String())
	if err != nil {
		return nil, convertError(err)
	}
	type accountResponse struct {
		Address string `json:"address"`
		Label   string `json:"label,omitempty"`
	}
	response := make([]accountResponse, len(accounts))
	for i, account := range accounts {
		response[i] = accountResponse{Address: account.Address, Label: account.Label}
	}
	return response, nil
}

type queryTransactionsRequest struct {
	Chain         string `json:"chain"`
	Address       string `json:"address"`
	FromTimestamp int64  `json:"from_ts"`
	ToTimestamp   int64  `json:"to_ts"`
	AsyncQuery    bool   `json:"async_query"`
}

func (s *Server) queryTransactionsHandler(_ map[string]string, _ map[string][]string,
	requestBody []byte) (interface{}, *HandlerError) {

	request := &queryTransactionsRequest{}
	if err := json.Unmarshal(requestBody, request); err != nil {
		return nil, NewHandlerError(http.StatusUnprocessableEntity,
			"The request body is not in the correct format")
	}
	c, err := chain.FromString(request.Chain)
	if err != nil {
		return nil, NewHandlerError(http.StatusUnprocessableEntity, err.Error())
	}
	var window *dbaccess.Interval
	if request.FromTimestamp != 0 || request.ToTimestamp != 0 {
		window = &dbaccess.Interval{Start: request.FromTimestamp, End: request.ToTimestamp}
	}

	if request.AsyncQuery {
		spawn(func() {
			if _, err := s.taskManager.QueryTransactions(
				context.Background(), c, request.Address, window); err != nil {
				log.Errorf("Async transaction query failed: %s", err)
			}
		})
		return map[string]interface{}{"status": "scheduled"}, nil
	}

	eventList, err := s.taskManager.QueryTransactions(
		context.Background(), c, request.Address, window)
	if err != nil {
		return nil, convertError(err)
	}
	return serializeEvents(eventList), nil
}

func (s *Server) getEventsHandler(_ map[string]string, queryParams map[string][]string,
	_ []byte) (interface{}, *HandlerError) {

	filter := &events.Filter{}
	if value, hErr := singleIntParam(queryParams, "from_ts"); hErr != nil {
		return nil, hErr
	} else if value != 0 {
		filter.FromTimestamp = chain.TimestampMS(value)
	}
	if value, hErr := singleIntParam(queryParams, "to_ts"); hErr != nil {
		return nil, hErr
	} else if value != 0 {
		filter.ToTimestamp = chain.TimestampMS(value)
	}
	if values := queryParams["chain"]; len(values) == 1 {
		c, err := chain.FromString(values[0])
		if err != nil {
			return nil, NewHandlerError(http.StatusUnprocessableEntity, err.Error())
		}
		filter.Location = c.Location()
	}
	if values := queryParams["address"]; len(values) == 1 {
		filter.LocationLabel = values[0]
	}
	if values := queryParams["type"]; len(values) > 0 {
		for _, value := range values {
			eventType, err := events.TypeFromString(value)
			if err != nil {
				return nil, NewHandlerError(http.StatusUnprocessableEntity, err.Error())
			}
			filter.EventTypes = append(filter.EventTypes, eventType)
		}
	}
	if values := queryParams["event_identifier"]; len(values) == 1 {
		filter.EventIdentifier = values[0]
	}
	if values := queryParams["include_ignored"]; len(values) == 1 {
		filter.IncludeIgnored = values[0] == "true"
	}
	if value, hErr := singleIntParam(queryParams, "limit"); hErr != nil {
		return nil, hErr
	} else if value != 0 {
		filter.Limit = int(value)
	}
	if value, hErr := singleIntParam(queryParams, "offset"); hErr != nil {
		return nil, hErr
	} else if value != 0 {
		filter.Offset = int(value)
	}

	eventList, err := s.db.GetEvents(filter)
	if err != nil {
		return nil, convertError(err)
	}
	return serializeEvents(eventList), nil
}

type ignoredActionsRequest struct {
	ActionType string   `json:"action_type"`
	IDs        []string `json:"ids"`
}

func (s *Server) ignoreActionsHandler(_ map[string]string, _ map[string][]string,
	requestBody []byte) (interface{}, *HandlerError) {

	request := &ignoredActionsRequest{}
	if err := json.Unmarshal(requestBody, request); err != nil || len(request.IDs) == 0 {
		return nil, NewHandlerError(http.StatusUnprocessableEntity,
			"The request body is not in the correct format")
	}
	if request.ActionType == "" {
		request.ActionType = dbaccess.IgnoredActionTypeHistoryEvent
	}
	if err := s.db.IgnoreActions(request.ActionType, request.IDs); err != nil {
		return nil, convertError(err)
	}
	return map[string]interface{}{"ignored": request.IDs}, nil
}

func (s *Server) unignoreActionsHandler(_ map[string]string, _ map[string][]string,
	requestBody []byte) (interface{}, *HandlerError) {

	request := &ignoredActionsRequest{}
	if err := json.Unmarshal(requestBody, request); err != nil || len(request.IDs) == 0 {
		return nil, NewHandlerError(http.StatusUnprocessableEntity,
			"The request body is not in the correct format")
	}
	if request.ActionType == "" {
		request.ActionType = dbaccess.IgnoredActionTypeHistoryEvent
	}
	if err := s.db.UnignoreActions(request.ActionType, request.IDs); err != nil {
		return nil, convertError(err)
	}
	return map[string]interface{}{"unignored": request.IDs}, nil
}

func singleIntParam(queryParams map[string][]string, name string) (int64, *HandlerError) {
	values := queryParams[name]
	if len(values) == 0 {
		return 0, nil
	}
	if len(values) > 1 {
		return 0, NewHandlerError(http.StatusUnprocessableEntity, fmt.Sprintf(
			"Couldn't parse the '%s' query parameter: expected a single value but got an array", name))
	}
	value, err := strconv.ParseInt(values[0], 10, 64)
	if err != nil {
		return 0, NewHandlerError(http.StatusUnprocessableEntity, fmt.Sprintf(
			"Couldn't parse the '%s' query parameter: %s", name, err))
	}
	return value, nil
}

type eventResponse struct {
	EventIdentifier string                 `json:"event_identifier"`
	SequenceIndex   uint64                 `json:"sequence_index"`
	Timestamp       int64                  `json:"timestamp"`
	Location        string                 `json:"location"`
	EventType       string                 `json:"event_type"`
	EventSubtype    string                 `json:"event_subtype"`
	Asset           string                 `json:"asset"`
	Amount          string                 `json:"amount"`
	LocationLabel   string                 `json:"location_label,omitempty"`
	Notes           string                 `json:"notes,omitempty"`
	Counterparty    string                 `json:"counterparty,omitempty"`
	Address         string                 `json:"address,omitempty"`
	ExtraData       map[string]interface{} `json:"extra_data,omitempty"`
}

func serializeEvents(eventList []*events.HistoryEvent) []eventResponse {
	response := make([]eventResponse, len(eventList))
	for i, event := range eventList {
		response[i] = eventResponse{
			EventIdentifier: event.EventIdentifier,
			SequenceIndex:   event.SequenceIndex,
			Timestamp:       int64(event.Timestamp),
			Location:        event.Location,
			EventType:       string(event.EventType),
			EventSubtype:    string(event.EventSubtype),
			Asset:           event.Asset,
			Amount:          event.Amount.String(),
			LocationLabel:   event.LocationLabel,
			Notes:           event.Notes,
			Counterparty:    event.Counterparty,
			Address:         event.Address,
			ExtraData:       event.ExtraData,
		}
	}
	return response
}
