package stow

import (
	"encoding/json"
	"encoding/xml"
	"sort"
	"strconv"

	dicomweb "gitlab.com/medical-research/dicomweb"
	"gitlab.com/medical-research/dicomweb/negotiate"
)

// element is a format-neutral DICOM attribute. Exactly one of Strings,
// Numbers or Items is used, depending on VR.
type element struct {
	Tag     string
	VR      string
	Keyword string
	Strings []string
	Numbers []uint16
	Items   [][]element
}

// Encode renders res in the requested format.
func Encode(res *dicomweb.StoreResult, format negotiate.Format) ([]byte, error) {
	ds := resultDataset(res)
	if format == negotiate.FormatXML {
		return encodeXML(ds)
	}
	return encodeJSON(ds)
}

func resultDataset(res *dicomweb.StoreResult) []element {
	var ds []element
	if res.RetrieveURL != "" {
		ds = append(ds, element{Tag: TagRetrieveURL, VR: "UT", Keyword: "RetrieveURL", Strings: []string{res.RetrieveURL}})
	}
	ds = append(ds,
		element{Tag: TagFailedSOPSequence, VR: "SQ", Keyword: "FailedSOPSequence", Items: recordItems(res.Failed)},
		element{Tag: TagReferencedSOPSequence, VR: "SQ", Keyword: "ReferencedSOPSequence", Items: recordItems(res.Success)},
	)
	return ds
}

func recordItems(records []dicomweb.StatusRecord) [][]element {
	items := make([][]element, 0, len(records))
	for _, rec := range records {
		item := []element{
			uidElement(TagReferencedSOPClassUID, "ReferencedSOPClassUID", rec.SOPClassUID),
			uidElement(TagReferencedSOPInstanceUID, "ReferencedSOPInstanceUID", rec.SOPInstanceUID),
		}
		if rec.RetrieveURL != "" {
			item = append(item, element{Tag: TagRetrieveURL, VR: "UT", Keyword: "RetrieveURL", Strings: []string{rec.RetrieveURL}})
		}
		switch rec.Outcome {
		case dicomweb.OutcomeWarning:
			item = append(item, element{Tag: TagWarningReason, VR: "US", Keyword: "WarningReason", Numbers: []uint16{rec.Reason}})
		case dicomweb.OutcomeFailure:
			item = append(item, element{Tag: TagFailureReason, VR: "US", Keyword: "FailureReason", Numbers: []uint16{rec.Reason}})
		}
		items = append(items, item)
	}
	return items
}

func uidElement(tag, keyword, uid string) element {
	e := element{Tag: tag, VR: "UI", Keyword: keyword}
	if uid != "" {
		e.Strings = []string{uid}
	}
	return e
}

// jsonAttribute is one attribute of the DICOM JSON model.
type jsonAttribute struct {
	VR    string        `json:"vr"`
	Value []interface{} `json:"Value,omitempty"`
}

func encodeJSON(ds []element) ([]byte, error) {
	return json.Marshal(jsonDataset(ds))
}

func jsonDataset(ds []element) map[string]jsonAttribute {
	m := make(map[string]jsonAttribute, len(ds))
	for _, e := range ds {
		attr := jsonAttribute{VR: e.VR}
		for _, s := range e.Strings {
			attr.Value = append(attr.Value, s)
		}
		for _, n := range e.Numbers {
			attr.Value = append(attr.Value, n)
		}
		for _, item := range e.Items {
			attr.Value = append(attr.Value, jsonDataset(item))
		}
		m[e.Tag] = attr
	}
	return m
}

// Native DICOM model, PS3.19 Annex A.
type xmlDataset struct {
	XMLName    xml.Name       `xml:"NativeDicomModel"`
	Xmlns      string         `xml:"xmlns,attr"`
	Attributes []xmlAttribute `xml:"DicomAttribute"`
}

type xmlAttribute struct {
	Tag     string     `xml:"tag,attr"`
	VR      string     `xml:"vr,attr"`
	Keyword string     `xml:"keyword,attr,omitempty"`
	Values  []xmlValue `xml:"Value"`
	Items   []xmlItem  `xml:"Item"`
}

type xmlValue struct {
	Number int    `xml:"number,attr"`
	Text   string `xml:",chardata"`
}

type xmlItem struct {
	Number     int            `xml:"number,attr"`
	Attributes []xmlAttribute `xml:"DicomAttribute"`
}

func encodeXML(ds []element) ([]byte, error) {
	buf, err := xml.MarshalIndent(xmlDataset{
		Xmlns:      "http://dicom.nema.org/PS3.19/models/NativeDICOM",
		Attributes: xmlAttributes(ds),
	}, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), buf...), nil
}

func xmlAttributes(ds []element) []xmlAttribute {
	attrs := make([]xmlAttribute, 0, len(ds))
	for _, e := range ds {
		attr := xmlAttribute{Tag: e.Tag, VR: e.VR, Keyword: e.Keyword}
		for i, s := range e.Strings {
			attr.Values = append(attr.Values, xmlValue{Number: i + 1, Text: s})
		}
		for i, n := range e.Numbers {
			attr.Values = append(attr.Values, xmlValue{Number: i + 1, Text: strconv.FormatUint(uint64(n), 10)})
		}
		for i, item := range e.Items {
			attr.Items = append(attr.Items, xmlItem{Number: i + 1, Attributes: xmlAttributes(item)})
		}
		attrs = append(attrs, attr)
	}
	sort.Slice(attrs, func(i, j int) bool { return attrs[i].Tag < attrs[j].Tag })
	return attrs
}
