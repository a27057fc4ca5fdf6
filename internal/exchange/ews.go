package exchange

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/innohassle/room-booking-backend/internal/tz"
)

// EWSConfig holds the connection settings of the Exchange Web Services
// endpoint. The service account must own the booking calendar and have
// free/busy visibility into the room mailboxes.
type EWSConfig struct {
	Endpoint string
	Username string
	Password string
	// Timeout bounds a single SOAP round trip. Default 60s.
	Timeout time.Duration
}

// ewsClient implements Gateway over the EWS SOAP protocol.
type ewsClient struct {
	endpoint string
	username string
	password string
	http     *http.Client
	log      *zap.Logger
}

func NewEWSClient(cfg EWSConfig, log *zap.Logger) Gateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ewsClient{
		endpoint: cfg.Endpoint,
		username: cfg.Username,
		password: cfg.Password,
		http:     &http.Client{Timeout: timeout},
		log:      log,
	}
}

const (
	soapEnvelopeOpen = `<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"
               xmlns:m="http://schemas.microsoft.com/exchange/services/2006/messages"
               xmlns:t="http://schemas.microsoft.com/exchange/services/2006/types">
  <soap:Header>
    <t:RequestServerVersion Version="Exchange2013_SP1"/>
  </soap:Header>
  <soap:Body>`
	soapEnvelopeClose = `</soap:Body>
</soap:Envelope>`

	timeLayout = "2006-01-02T15:04:05"
)

func xmlEscape(s string) string {
	var b bytes.Buffer
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

func ewsTime(t time.Time) string {
	return t.In(tz.MSK).Format(time.RFC3339)
}

// parseEWSTime accepts both offset-qualified and bare timestamps; bare ones
// are in the requested timezone (MSK).
func parseEWSTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(tz.MSK), nil
	}
	return time.ParseInLocation(timeLayout, s, tz.MSK)
}

// call performs one SOAP round trip and returns the parsed envelope.
func (c *ewsClient) call(ctx context.Context, body string) (*envelope, error) {
	payload := soapEnvelopeOpen + body + soapEnvelopeClose
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build ews request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ews request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read ews response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		c.log.Warn("ews returned non-200", zap.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("ews returned status %d", resp.StatusCode)
	}

	var env envelope
	if err := xml.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("parse ews response: %w", err)
	}
	if env.Body.Fault != nil {
		return nil, fmt.Errorf("ews soap fault: %s", env.Body.Fault.FaultString)
	}
	return &env, nil
}

func responseErr(code string) error {
	switch code {
	case "", "NoError":
		return nil
	case "ErrorItemNotFound", "ErrorInvalidIdMalformed":
		return ErrItemNotFound
	default:
		return fmt.Errorf("ews error: %s", code)
	}
}

// ---- response envelope ----

type envelope struct {
	Body struct {
		Fault *struct {
			FaultString string `xml:"faultstring"`
		} `xml:"Fault"`
		FindItemResponse            *findItemResponse     `xml:"FindItemResponse"`
		GetItemResponse             *getItemResponse      `xml:"GetItemResponse"`
		CreateItemResponse          *createItemResponse   `xml:"CreateItemResponse"`
		UpdateItemResponse          *updateItemResponse   `xml:"UpdateItemResponse"`
		GetUserAvailabilityResponse *availabilityResponse `xml:"GetUserAvailabilityResponse"`
		SubscribeResponse           *subscribeResponse    `xml:"SubscribeResponse"`
	} `xml:"Body"`
}

type xmlItemID struct {
	ID        string `xml:"Id,attr"`
	ChangeKey string `xml:"ChangeKey,attr"`
}

type xmlAttendee struct {
	Mailbox struct {
		EmailAddress string `xml:"EmailAddress"`
	} `xml:"Mailbox"`
	ResponseType     string `xml:"ResponseType"`
	LastResponseTime string `xml:"LastResponseTime"`
}

type xmlCalendarItem struct {
	ItemID            xmlItemID `xml:"ItemId"`
	Subject           string    `xml:"Subject"`
	Start             string    `xml:"Start"`
	End               string    `xml:"End"`
	RequiredAttendees struct {
		Attendees []xmlAttendee `xml:"Attendee"`
	} `xml:"RequiredAttendees"`
}

type findItemResponse struct {
	Messages []struct {
		ResponseCode string `xml:"ResponseCode"`
		RootFolder   struct {
			Items struct {
				CalendarItems []xmlCalendarItem `xml:"CalendarItem"`
			} `xml:"Items"`
		} `xml:"RootFolder"`
	} `xml:"ResponseMessages>FindItemResponseMessage"`
}

type getItemResponse struct {
	Messages []struct {
		ResponseCode string `xml:"ResponseCode"`
		Items        struct {
			CalendarItems []xmlCalendarItem `xml:"CalendarItem"`
		} `xml:"Items"`
	} `xml:"ResponseMessages>GetItemResponseMessage"`
}

type createItemResponse struct {
	Messages []struct {
		ResponseCode string `xml:"ResponseCode"`
		Items        struct {
			CalendarItems []xmlCalendarItem `xml:"CalendarItem"`
		} `xml:"Items"`
	} `xml:"ResponseMessages>CreateItemResponseMessage"`
}

type updateItemResponse struct {
	Messages []struct {
		ResponseCode string `xml:"ResponseCode"`
	} `xml:"ResponseMessages>UpdateItemResponseMessage"`
}

type availabilityResponse struct {
	FreeBusyResponses []struct {
		FreeBusyView struct {
			CalendarEvents []struct {
				StartTime string `xml:"StartTime"`
				EndTime   string `xml:"EndTime"`
				Details   struct {
					Subject  string `xml:"Subject"`
					Location string `xml:"Location"`
				} `xml:"CalendarEventDetails"`
			} `xml:"CalendarEventArray>CalendarEvent"`
		} `xml:"FreeBusyView"`
	} `xml:"FreeBusyResponseArray>FreeBusyResponse"`
}

type subscribeResponse struct {
	Messages []struct {
		ResponseCode   string `xml:"ResponseCode"`
		SubscriptionID string `xml:"SubscriptionId"`
		Watermark      string `xml:"Watermark"`
	} `xml:"ResponseMessages>SubscribeResponseMessage"`
}

// ---- conversions ----

func itemFromXML(x *xmlCalendarItem) (Item, error) {
	start, err := parseEWSTime(x.Start)
	if err != nil {
		return Item{}, fmt.Errorf("parse item start: %w", err)
	}
	end, err := parseEWSTime(x.End)
	if err != nil {
		return Item{}, fmt.Errorf("parse item end: %w", err)
	}
	item := Item{
		ID:      x.ItemID.ID,
		Subject: x.Subject,
		Start:   start,
		End:     end,
	}
	for _, a := range x.RequiredAttendees.Attendees {
		attendee := Attendee{
			Email:        a.Mailbox.EmailAddress,
			ResponseType: ResponseType(a.ResponseType),
		}
		if attendee.ResponseType == "" {
			attendee.ResponseType = ResponseUnknown
		}
		if a.LastResponseTime != "" {
			if t, err := parseEWSTime(a.LastResponseTime); err == nil {
				attendee.LastResponseTime = &t
			}
		}
		item.RequiredAttendees = append(item.RequiredAttendees, attendee)
	}
	return item, nil
}

// ---- Gateway ----

// CalendarView lists the booking calendar via FindItem, then hydrates the
// attendee lists with a batched GetItem: FindItem alone never returns
// attendees.
func (c *ewsClient) CalendarView(ctx context.Context, start, end time.Time) ([]Item, error) {
	var body strings.Builder
	fmt.Fprintf(&body, `<m:FindItem Traversal="Shallow">
  <m:ItemShape><t:BaseShape>IdOnly</t:BaseShape></m:ItemShape>
  <m:CalendarView StartDate="%s" EndDate="%s"/>
  <m:ParentFolderIds><t:DistinguishedFolderId Id="calendar"/></m:ParentFolderIds>
</m:FindItem>`, ewsTime(start), ewsTime(end))

	env, err := c.call(ctx, body.String())
	if err != nil {
		return nil, err
	}
	if env.Body.FindItemResponse == nil {
		return nil, fmt.Errorf("ews: missing FindItem response")
	}

	var ids []string
	for _, msg := range env.Body.FindItemResponse.Messages {
		if err := responseErr(msg.ResponseCode); err != nil {
			return nil, err
		}
		for _, x := range msg.RootFolder.Items.CalendarItems {
			ids = append(ids, x.ItemID.ID)
		}
	}
	if len(ids) == 0 {
		return []Item{}, nil
	}
	return c.getItems(ctx, ids)
}

func (c *ewsClient) getItems(ctx context.Context, ids []string) ([]Item, error) {
	var body strings.Builder
	body.WriteString(`<m:GetItem>
  <m:ItemShape>
    <t:BaseShape>IdOnly</t:BaseShape>
    <t:AdditionalProperties>
      <t:FieldURI FieldURI="item:Subject"/>
      <t:FieldURI FieldURI="calendar:Start"/>
      <t:FieldURI FieldURI="calendar:End"/>
      <t:FieldURI FieldURI="calendar:RequiredAttendees"/>
    </t:AdditionalProperties>
  </m:ItemShape>
  <m:ItemIds>`)
	for _, id := range ids {
		fmt.Fprintf(&body, `<t:ItemId Id="%s"/>`, xmlEscape(id))
	}
	body.WriteString(`</m:ItemIds>
</m:GetItem>`)

	env, err := c.call(ctx, body.String())
	if err != nil {
		return nil, err
	}
	if env.Body.GetItemResponse == nil {
		return nil, fmt.Errorf("ews: missing GetItem response")
	}

	items := make([]Item, 0, len(ids))
	for _, msg := range env.Body.GetItemResponse.Messages {
		if err := responseErr(msg.ResponseCode); err != nil {
			if err == ErrItemNotFound {
				// An item deleted between FindItem and GetItem; skip it.
				continue
			}
			return nil, err
		}
		for _, x := range msg.Items.CalendarItems {
			item, err := itemFromXML(&x)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
	}
	return items, nil
}

func (c *ewsClient) FreeBusy(ctx context.Context, emails []string, start, end time.Time) (map[string][]Event, error) {
	var body strings.Builder
	body.WriteString(`<m:GetUserAvailabilityRequest>
  <t:TimeZone>
    <t:Bias>-180</t:Bias>
    <t:StandardTime><t:Bias>0</t:Bias><t:Time>00:00:00</t:Time><t:DayOrder>1</t:DayOrder><t:Month>1</t:Month><t:DayOfWeek>Sunday</t:DayOfWeek></t:StandardTime>
    <t:DaylightTime><t:Bias>0</t:Bias><t:Time>00:00:00</t:Time><t:DayOrder>1</t:DayOrder><t:Month>1</t:Month><t:DayOfWeek>Sunday</t:DayOfWeek></t:DaylightTime>
  </t:TimeZone>
  <m:MailboxDataArray>`)
	for _, email := range emails {
		fmt.Fprintf(&body, `<t:MailboxData>
  <t:Email><t:Address>%s</t:Address></t:Email>
  <t:AttendeeType>Room</t:AttendeeType>
  <t:ExcludeConflicts>false</t:ExcludeConflicts>
</t:MailboxData>`, xmlEscape(email))
	}
	fmt.Fprintf(&body, `</m:MailboxDataArray>
  <t:FreeBusyViewOptions>
    <t:TimeWindow>
      <t:StartTime>%s</t:StartTime>
      <t:EndTime>%s</t:EndTime>
    </t:TimeWindow>
    <t:RequestedView>DetailedMerged</t:RequestedView>
  </t:FreeBusyViewOptions>
</m:GetUserAvailabilityRequest>`,
		start.In(tz.MSK).Format(timeLayout), end.In(tz.MSK).Format(timeLayout))

	env, err := c.call(ctx, body.String())
	if err != nil {
		return nil, err
	}
	if env.Body.GetUserAvailabilityResponse == nil {
		return nil, fmt.Errorf("ews: missing GetUserAvailability response")
	}

	// Responses come back in mailbox request order.
	out := make(map[string][]Event, len(emails))
	responses := env.Body.GetUserAvailabilityResponse.FreeBusyResponses
	for i, email := range emails {
		events := []Event{}
		if i < len(responses) {
			for _, ev := range responses[i].FreeBusyView.CalendarEvents {
				evStart, err := parseEWSTime(ev.StartTime)
				if err != nil {
					return nil, fmt.Errorf("parse event start: %w", err)
				}
				evEnd, err := parseEWSTime(ev.EndTime)
				if err != nil {
					return nil, fmt.Errorf("parse event end: %w", err)
				}
				events = append(events, Event{
					Start:    evStart,
					End:      evEnd,
					Subject:  ev.Details.Subject,
					Location: ev.Details.Location,
				})
			}
		}
		out[email] = events
	}
	return out, nil
}

func (c *ewsClient) CreateItem(ctx context.Context, p CreateItemParams) (string, error) {
	var body strings.Builder
	fmt.Fprintf(&body, `<m:CreateItem SendMeetingInvitations="SendToAllAndSaveCopy">
  <m:Items>
    <t:CalendarItem>
      <t:Subject>%s</t:Subject>
      <t:Body BodyType="Text">%s</t:Body>
      <t:Start>%s</t:Start>
      <t:End>%s</t:End>
      <t:Location>%s</t:Location>
      <t:RequiredAttendees>`,
		xmlEscape(p.Subject), xmlEscape(p.Body), ewsTime(p.Start), ewsTime(p.End), xmlEscape(p.Location))
	for _, email := range p.RequiredAttendees {
		fmt.Fprintf(&body, `<t:Attendee><t:Mailbox><t:EmailAddress>%s</t:EmailAddress></t:Mailbox></t:Attendee>`, xmlEscape(email))
	}
	body.WriteString(`</t:RequiredAttendees>
      <t:Resources>`)
	for _, email := range p.Resources {
		fmt.Fprintf(&body, `<t:Attendee><t:Mailbox><t:EmailAddress>%s</t:EmailAddress></t:Mailbox></t:Attendee>`, xmlEscape(email))
	}
	body.WriteString(`</t:Resources>
    </t:CalendarItem>
  </m:Items>
</m:CreateItem>`)

	env, err := c.call(ctx, body.String())
	if err != nil {
		return "", err
	}
	if env.Body.CreateItemResponse == nil {
		return "", fmt.Errorf("ews: missing CreateItem response")
	}
	for _, msg := range env.Body.CreateItemResponse.Messages {
		if err := responseErr(msg.ResponseCode); err != nil {
			return "", err
		}
		for _, x := range msg.Items.CalendarItems {
			return x.ItemID.ID, nil
		}
	}
	return "", fmt.Errorf("ews: CreateItem returned no item id")
}

func (c *ewsClient) GetItem(ctx context.Context, id string) (*Item, error) {
	items, err := c.getItems(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrItemNotFound
	}
	return &items[0], nil
}

// changeKey fetches the current change key of an item; UpdateItem and
// CancelCalendarItem both refuse stale ones.
func (c *ewsClient) changeKey(ctx context.Context, id string) (string, error) {
	body := fmt.Sprintf(`<m:GetItem>
  <m:ItemShape><t:BaseShape>IdOnly</t:BaseShape></m:ItemShape>
  <m:ItemIds><t:ItemId Id="%s"/></m:ItemIds>
</m:GetItem>`, xmlEscape(id))

	env, err := c.call(ctx, body)
	if err != nil {
		return "", err
	}
	if env.Body.GetItemResponse == nil {
		return "", fmt.Errorf("ews: missing GetItem response")
	}
	for _, msg := range env.Body.GetItemResponse.Messages {
		if err := responseErr(msg.ResponseCode); err != nil {
			return "", err
		}
		for _, x := range msg.Items.CalendarItems {
			return x.ItemID.ChangeKey, nil
		}
	}
	return "", ErrItemNotFound
}

func (c *ewsClient) UpdateItem(ctx context.Context, id string, fields UpdateItemFields) error {
	changeKey, err := c.changeKey(ctx, id)
	if err != nil {
		return err
	}

	var sets strings.Builder
	if fields.Subject != nil {
		fmt.Fprintf(&sets, `<t:SetItemField>
  <t:FieldURI FieldURI="item:Subject"/>
  <t:CalendarItem><t:Subject>%s</t:Subject></t:CalendarItem>
</t:SetItemField>`, xmlEscape(*fields.Subject))
	}
	if fields.Start != nil {
		fmt.Fprintf(&sets, `<t:SetItemField>
  <t:FieldURI FieldURI="calendar:Start"/>
  <t:CalendarItem><t:Start>%s</t:Start></t:CalendarItem>
</t:SetItemField>`, ewsTime(*fields.Start))
	}
	if fields.End != nil {
		fmt.Fprintf(&sets, `<t:SetItemField>
  <t:FieldURI FieldURI="calendar:End"/>
  <t:CalendarItem><t:End>%s</t:End></t:CalendarItem>
</t:SetItemField>`, ewsTime(*fields.End))
	}
	if sets.Len() == 0 {
		return nil
	}

	body := fmt.Sprintf(`<m:UpdateItem ConflictResolution="AlwaysOverwrite" SendMeetingInvitationsOrCancellations="SendToAllAndSaveCopy">
  <m:ItemChanges>
    <t:ItemChange>
      <t:ItemId Id="%s" ChangeKey="%s"/>
      <t:Updates>%s</t:Updates>
    </t:ItemChange>
  </m:ItemChanges>
</m:UpdateItem>`, xmlEscape(id), xmlEscape(changeKey), sets.String())

	env, err := c.call(ctx, body)
	if err != nil {
		return err
	}
	if env.Body.UpdateItemResponse == nil {
		return fmt.Errorf("ews: missing UpdateItem response")
	}
	for _, msg := range env.Body.UpdateItemResponse.Messages {
		if err := responseErr(msg.ResponseCode); err != nil {
			return err
		}
	}
	return nil
}

// CancelItem sends a meeting cancellation to every attendee, which removes
// the item from the room calendars as well.
func (c *ewsClient) CancelItem(ctx context.Context, id, body string) error {
	changeKey, err := c.changeKey(ctx, id)
	if err != nil {
		return err
	}

	payload := fmt.Sprintf(`<m:CreateItem MessageDisposition="SendAndSaveCopy">
  <m:Items>
    <t:CancelCalendarItem>
      <t:ReferenceItemId Id="%s" ChangeKey="%s"/>
      <t:NewBodyContent BodyType="Text">%s</t:NewBodyContent>
    </t:CancelCalendarItem>
  </m:Items>
</m:CreateItem>`, xmlEscape(id), xmlEscape(changeKey), xmlEscape(body))

	env, err := c.call(ctx, payload)
	if err != nil {
		return err
	}
	if env.Body.CreateItemResponse == nil {
		return fmt.Errorf("ews: missing CreateItem response")
	}
	for _, msg := range env.Body.CreateItemResponse.Messages {
		if err := responseErr(msg.ResponseCode); err != nil {
			return err
		}
	}
	return nil
}

func (c *ewsClient) PushSubscribe(ctx context.Context, callbackURL string, eventTypes []string) (Subscription, error) {
	var types strings.Builder
	for _, et := range eventTypes {
		fmt.Fprintf(&types, `<t:EventType>%s</t:EventType>`, xmlEscape(et))
	}

	body := fmt.Sprintf(`<m:Subscribe>
  <m:PushSubscriptionRequest>
    <t:FolderIds><t:DistinguishedFolderId Id="calendar"/></t:FolderIds>
    <t:EventTypes>%s</t:EventTypes>
    <t:StatusFrequency>1</t:StatusFrequency>
    <t:URL>%s</t:URL>
  </m:PushSubscriptionRequest>
</m:Subscribe>`, types.String(), xmlEscape(callbackURL))

	env, err := c.call(ctx, body)
	if err != nil {
		return Subscription{}, err
	}
	if env.Body.SubscribeResponse == nil {
		return Subscription{}, fmt.Errorf("ews: missing Subscribe response")
	}
	for _, msg := range env.Body.SubscribeResponse.Messages {
		if err := responseErr(msg.ResponseCode); err != nil {
			return Subscription{}, err
		}
		return Subscription{ID: msg.SubscriptionID, Watermark: msg.Watermark}, nil
	}
	return Subscription{}, fmt.Errorf("ews: Subscribe returned no subscription")
}
