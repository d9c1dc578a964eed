package remote

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/tidwall/gjson"
	"github.com/zeebo/xxh3"
)

// checkEnvelope parses a service response and returns its "data" member.
// A body with "ok": false is ErrRejected.
func checkEnvelope(body []byte) (gjson.Result, gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, gjson.Result{}, fmt.Errorf("%w: invalid JSON", ErrMalformedResponse)
	}

	doc := gjson.ParseBytes(body)

	if ok := doc.Get("ok"); ok.Exists() && !ok.Bool() {
		reason := doc.Get("errorCode").String()
		if reason == "" {
			reason = doc.Get("message").String()
		}

		return doc, gjson.Result{}, fmt.Errorf("%w: %s", ErrRejected, reason)
	}

	return doc, doc.Get("data"), nil
}

// revisionOf picks the revision marker of a response: meta.updated, then
// meta.lastUpdated, then a hash of the raw data so unchanged bodies compare equal.
func revisionOf(doc, data gjson.Result) uint64 {
	for _, path := range []string{"meta.updated", "meta.lastUpdated"} {
		v := doc.Get(path)
		if !v.Exists() {
			continue
		}

		if v.Type == gjson.Number {
			return v.Uint()
		}

		return xxh3.HashString(v.String())
	}

	return xxh3.HashString(data.Raw)
}

// decodeCollection reads the "data" member of a collection response, keeping the
// server's key order. Objects are keyed by their member names; arrays by the item's
// "id" field or, failing that, its index.
func decodeCollection[R any](body []byte, envelope bool) (Payload[R, uint64], error) {
	doc, data, err := checkEnvelope(body)
	if err != nil {
		return Payload[R, uint64]{}, err
	}

	payload := Payload[R, uint64]{Revision: revisionOf(doc, data)}

	if !data.Exists() || data.Type == gjson.Null {
		return payload, nil
	}

	if !data.IsObject() && !data.IsArray() {
		return Payload[R, uint64]{}, fmt.Errorf("%w: data is %s", ErrMalformedResponse, data.Type)
	}

	var decodeErr error

	index := 0

	data.ForEach(func(key, item gjson.Result) bool {
		id := key.String()
		if data.IsArray() {
			id = item.Get("id").String()
			if id == "" {
				id = strconv.Itoa(index)
			}
		}

		index++

		if envelope {
			item = item.Get("data")
		}

		var value R
		if err := json.Unmarshal([]byte(item.Raw), &value); err != nil {
			decodeErr = fmt.Errorf("%w: record %q: %w", ErrMalformedResponse, id, err)

			return false
		}

		payload.Records = append(payload.Records, Record[R]{ID: id, Value: value})

		return true
	})

	if decodeErr != nil {
		return Payload[R, uint64]{}, decodeErr
	}

	return payload, nil
}

// decodeDocument reads the "data" member of a single-document response.
func decodeDocument[T any](body []byte) (T, error) {
	var out T

	_, data, err := checkEnvelope(body)
	if err != nil {
		return out, err
	}

	if !data.Exists() || data.Type == gjson.Null {
		return out, nil
	}

	if err := json.Unmarshal([]byte(data.Raw), &out); err != nil {
		return out, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	return out, nil
}
