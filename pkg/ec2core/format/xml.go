package format

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/go-playground/validator/v10"

	"github.com/fiam/ec2core/pkg/ec2core/api"
)

const ec2Namespace = "http://ec2.amazonaws.com/doc/2016-11-15/"

var validate = validator.New(validator.WithRequiredStructEnabled())

type XML struct {
}

func (f *XML) DecodeRequest(r *http.Request) (api.Request, error) {
	if r.Method != http.MethodPost {
		return nil, api.ErrWithCode(api.ErrorCodeMethodNotAllowed, nil)
	}
	if err := r.ParseForm(); err != nil {
		return nil, api.ErrWithCode(api.ErrorCodeInvalidForm, err)
	}
	api.Logger(r.Context()).Debug("received request",
		slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.Any("form", r.Form))
	return f.parseRequest(r)
}

func (f *XML) EncodeError(ctx context.Context, w http.ResponseWriter, e error) error {
	code := api.ErrorCode(e)
	statusCode := http.StatusBadRequest
	switch code {
	case api.ErrorCodeMethodNotAllowed:
		statusCode = http.StatusMethodNotAllowed
	case api.ErrorCodeServiceUnavailable:
		statusCode = http.StatusServiceUnavailable
	case "":
		// Unknown error
		code = "InternalError"
		statusCode = http.StatusInternalServerError
	}
	errorResponse := xmlErrorResponse{
		Errors: xmlErrors{
			Error: xmlError{
				Code:    code,
				Message: errorMessage(e),
			},
		},
		RequestID: api.RequestID(ctx),
	}

	xmlData, err := xml.MarshalIndent(errorResponse, "", "  ")
	if err != nil {
		return fmt.Errorf("serializing XML error: %w", err)
	}

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(statusCode)
	if _, err := w.Write(xmlData); err != nil {
		return fmt.Errorf("writing response to client: %w", err)
	}
	api.Logger(ctx).Debug("returning error", slog.Int("status", statusCode), slog.String("body", string(xmlData)))
	return nil
}

// errorMessage strips the code prefix added by api.Error, since clients
// receive the code in its own element.
func errorMessage(e error) string {
	var apiErr *api.Error
	if errors.As(e, &apiErr) && apiErr.Err != nil {
		return apiErr.Err.Error()
	}
	return e.Error()
}

func (f *XML) EncodeResponse(ctx context.Context, w http.ResponseWriter, resp api.Response) error {
	xmlString, err := encodeResponse(ctx, resp)
	if err != nil {
		return fmt.Errorf("encoding XML response: %w", err)
	}

	api.Logger(ctx).Debug("response", slog.String("body", xmlString))
	w.Header().Set("Content-Type", "application/xml")
	if _, err := io.WriteString(w, xmlString); err != nil {
		return fmt.Errorf("writing response to client: %w", err)
	}
	return nil
}

func (f *XML) parseRequest(r *http.Request) (api.Request, error) {
	action := r.FormValue("Action")
	var out api.Request
	switch action {
	case "RunInstances":
		out = &api.RunInstancesRequest{}
	case "DescribeInstances":
		out = &api.DescribeInstancesRequest{}
	case "StopInstances":
		out = &api.StopInstancesRequest{}
	case "StartInstances":
		out = &api.StartInstancesRequest{}
	case "TerminateInstances":
		out = &api.TerminateInstancesRequest{}

	case "DescribeInstanceAttribute":
		out = &api.DescribeInstanceAttributeRequest{}
	case "ModifyInstanceAttribute":
		out = &api.ModifyInstanceAttributeRequest{}
	case "ResetInstanceAttribute":
		out = &api.ResetInstanceAttributeRequest{}

	case "GetPasswordData":
		out = &api.GetPasswordDataRequest{}
	case "GetConsoleOutput":
		out = &api.GetConsoleOutputRequest{}

	case "DescribeVolumes":
		out = &api.DescribeVolumesRequest{}

	default:
		//nolint
		err := fmt.Errorf("The action '%s' is not valid for this web service.", action)
		return nil, api.ErrWithCode(api.ErrorCodeInvalidAction, err)
	}

	return decodeRequest(r.Form, out)
}

func decodeRequest(values url.Values, out api.Request) (api.Request, error) {
	if err := decodeURLEncoded(values, out); err != nil {
		var pe *paramError
		if errors.As(err, &pe) {
			if errors.Is(err, errNoSuchField) {
				//nolint
				return nil, api.ErrWithCode(api.ErrorCodeUnknownParameter, fmt.Errorf("The parameter %s is not recognized", pe.Param))
			}
			return nil, api.InvalidParameterValueError(pe.Param, pe.Value)
		}
		return nil, fmt.Errorf("decoding request: %w", err)
	}
	if err := validate.Struct(out); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			param := urlParamName(out, fe)
			if fe.Tag() == "required" {
				return nil, api.MissingParameterError(param)
			}
			return nil, api.InvalidParameterValueError(param, fmt.Sprint(fe.Value()))
		}
		return nil, fmt.Errorf("validating request: %w", err)
	}
	return out, nil
}

// urlParamName maps a validation failure back to the query parameter name
// the client used, falling back to the Go field name.
func urlParamName(out api.Request, fe validator.FieldError) string {
	rt := reflect.TypeOf(out)
	for rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	if sf, ok := rt.FieldByName(fe.StructField()); ok {
		if tag := sf.Tag.Get("url"); tag != "" {
			return tag
		}
	}
	return fe.Field()
}

type xmlErrorResponse struct {
	XMLName   xml.Name  `xml:"Response"`
	Errors    xmlErrors `xml:"Errors"`
	RequestID string    `xml:"RequestID"`
}

type xmlErrors struct {
	XMLName xml.Name `xml:"Errors"`
	Error   xmlError `xml:"Error"`
}

type xmlError struct {
	Code    string `xml:"Code"`
	Message string `xml:"Message"`
}

func encodeResponse(ctx context.Context, resp api.Response) (string, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	rv := reflect.ValueOf(resp)
	responseType := rv.Type()
	for responseType.Kind() == reflect.Pointer {
		responseType = responseType.Elem()
	}
	root := doc.CreateElement(responseType.Name())
	root.CreateAttr("xmlns", ec2Namespace)
	root.CreateElement("requestId").SetText(api.RequestID(ctx))
	if err := encodeResponseFields(root, rv, ""); err != nil {
		return "", fmt.Errorf("encoding XML response: %w", err)
	}

	doc.Indent(2)
	s, err := doc.WriteToString()
	if err != nil {
		return "", fmt.Errorf("serializing XML: %w", err)
	}
	return s, nil
}

func encodeResponseFields(el *etree.Element, rv reflect.Value, name string) error {
	switch rv.Kind() {
	case reflect.Struct:
		if t, ok := rv.Interface().(time.Time); ok {
			el.SetText(t.UTC().Format(time.RFC3339Nano))
			break
		}
		rt := rv.Type()
		for i := range rt.NumField() {
			typeField := rt.Field(i)
			fieldName := typeField.Tag.Get("xml")
			if fieldName == "" {
				fieldName = typeField.Name
			}
			var innerName string
			if sep := strings.IndexByte(fieldName, '>'); sep >= 0 {
				innerName = fieldName[sep+1:]
				fieldName = fieldName[:sep]
			}
			field := rv.Field(i)
			// Omit nil fields, otherwise the client decode will decode it as zero
			// value, even if the XML is empty.
			if field.Kind() == reflect.Pointer && field.IsNil() {
				continue
			}
			var fieldElement *etree.Element
			if typeField.Anonymous {
				fieldElement = el
			} else {
				fieldElement = el.CreateElement(fieldName)
			}
			if err := encodeResponseFields(fieldElement, field, innerName); err != nil {
				return fmt.Errorf("encoding field %s: %w", fieldName, err)
			}
		}
	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		return encodeResponseFields(el, rv.Elem(), name)
	case reflect.Slice:
		for i := range rv.Len() {
			itemEl := el.CreateElement(name)
			if err := encodeResponseFields(itemEl, rv.Index(i), ""); err != nil {
				return fmt.Errorf("encoding item %d: %w", i, err)
			}
		}
	case reflect.String:
		el.SetText(rv.String())
	case reflect.Int, reflect.Int64:
		el.SetText(strconv.FormatInt(rv.Int(), 10))
	case reflect.Uint, reflect.Uint64:
		el.SetText(strconv.FormatUint(rv.Uint(), 10))
	case reflect.Bool:
		el.SetText(strconv.FormatBool(rv.Bool()))
	default:
		return fmt.Errorf("cannot encode type %s", rv.Type())
	}
	return nil
}
