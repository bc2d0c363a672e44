// Package mocks holds generated mocks of the interfaces applications plug in.
package mocks

//go:generate go run github.com/golang/mock/mockgen -package mocks -destination session.go -mock_names Session=Session event-http/application/http/event Session
//go:generate go run github.com/golang/mock/mockgen -package mocks -destination lookuper.go -mock_names Lookuper=Lookuper event-http/application/util/domain Lookuper
