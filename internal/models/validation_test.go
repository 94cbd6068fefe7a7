package models

import (
	"errors"
	"testing"
)

func TestValidationErrorsIs(t *testing.T) {
	validation := &ValidationErrors{}
	validation.Add("status", ErrInvalidStatus)

	err := validation.Err()
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected errors.Is to match ErrInvalidStatus, got %v", err)
	}
}

func TestValidationErrorsNestedFields(t *testing.T) {
	nested := &ValidationErrors{}
	nested.AddMessage("message", "message text is required")

	validation := &ValidationErrors{}
	validation.Add("reply", nested)

	err := validation.Err()
	if err == nil {
		t.Fatal("expected error")
	}

	list, ok := err.(*ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors type, got %T", err)
	}
	if len(list.Errors) != 1 {
		t.Fatalf("expected 1 error, got %d", len(list.Errors))
	}
	if list.Errors[0].Field != "reply.message" {
		t.Fatalf("expected field reply.message, got %q", list.Errors[0].Field)
	}
}

func TestNewMessageValidate(t *testing.T) {
	empty := ""
	tests := []struct {
		name    string
		msg     NewMessage
		wantErr bool
	}{
		{name: "text only", msg: NewMessage{Body: "hi"}},
		{name: "image only", msg: NewMessage{Images: []string{"https://x/a.png"}}},
		{name: "blank", msg: NewMessage{Body: "   "}, wantErr: true},
		{name: "blank image url", msg: NewMessage{Body: "hi", Images: []string{" "}}, wantErr: true},
		{name: "empty reply target", msg: NewMessage{Body: "hi", ReplyToID: &empty}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateStatusChange(t *testing.T) {
	if err := ValidateStatusChange("t1", TicketStatusClosed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := ValidateStatusChange("", "archived")
	if !errors.Is(err, ErrMissingID) || !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected both sentinels, got %v", err)
	}
}
