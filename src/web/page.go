package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	gomponents "maragu.dev/gomponents"
	html "maragu.dev/gomponents/html"

	"UberPickups/src/app"
	"UberPickups/src/dataset"
	"UberPickups/src/processor"
)

const pageTitle = "Uber pickups in NYC"

const pageCSS = `
body { font-family: sans-serif; max-width: 960px; margin: 2rem auto; color: #262730; }
.status { color: #555; }
.error { border: 1px solid #f5c2c7; background: #f8d7da; padding: 1rem; border-radius: 4px; }
.notice { color: #8a6d3b; }
.chart { display: flex; align-items: flex-end; gap: 2px; height: 200px; border-bottom: 1px solid #ccc; }
.bar { flex: 1; background: #1f77b4; min-height: 1px; }
.axis { display: flex; gap: 2px; font-size: 10px; color: #666; }
.axis span { flex: 1; text-align: center; }
.raw { font-size: 12px; border-collapse: collapse; max-height: 400px; overflow: auto; display: block; }
.raw td, .raw th { border: 1px solid #eee; padding: 2px 6px; }
#map { position: relative; height: 500px; }
`

const deckScript = `
(function () {
  var el = document.getElementById("map");
  if (!el || !window.deck) { return; }
  var cfg = JSON.parse(el.dataset.deck);
  var layers = cfg.layers.map(function (l) {
    var props = Object.assign({}, l, { getPosition: function (d) { return d; } });
    delete props["@@type"];
    return l["@@type"] === "HexagonLayer" ? new deck.HexagonLayer(props) : new deck.ScatterplotLayer(props);
  });
  var view = cfg.initialViewState;
  new deck.DeckGL({
    container: el,
    initialViewState: {
      latitude: view.latitude === null ? 40.7306 : view.latitude,
      longitude: view.longitude === null ? -73.9352 : view.longitude,
      zoom: view.zoom,
      pitch: view.pitch
    },
    controller: true,
    layers: layers
  });
})();
`

func renderHTML(w http.ResponseWriter, status int, node gomponents.Node) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = node.Render(w)
}

func layout(body ...gomponents.Node) gomponents.Node {
	return html.Doctype(
		html.HTML(
			html.Lang("en"),
			html.Head(
				html.Meta(html.Charset("utf-8")),
				html.TitleEl(gomponents.Text(pageTitle)),
				html.StyleEl(gomponents.Raw(pageCSS)),
			),
			html.Body(
				append([]gomponents.Node{html.H1(gomponents.Text(pageTitle))}, body...)...,
			),
		),
	)
}

func errorPage(err error) gomponents.Node {
	title := "Loading data failed"
	var parseErr *dataset.ParseError
	if errors.As(err, &parseErr) {
		title = "Parsing data failed"
	}
	return layout(
		html.Div(
			html.Class("error"),
			html.H2(gomponents.Text(title)),
			html.P(gomponents.Text(err.Error())),
		),
	)
}

func dashboardPage(v app.View, rawRows int) gomponents.Node {
	nodes := []gomponents.Node{
		html.P(html.Class("status"), gomponents.Text("Done! (using cache)")),
		rawToggle(v.ShowRaw),
	}
	if v.ShowRaw && v.Table != nil {
		nodes = append(nodes,
			html.H2(gomponents.Text("Raw data")),
			rawTable(v.Table.Head(rawRows), v.Table.Nrow()),
		)
	}
	nodes = append(nodes,
		html.H2(gomponents.Text("Number of pickups by hour")),
		barChart(v.Histogram),
		hourSlider(v.Hour),
		html.H2(gomponents.Text(fmt.Sprintf("Map of all pickups at %d:00", v.Hour))),
		mapPanel(v),
		html.P(
			html.A(html.Href(fmt.Sprintf("/export.xlsx?hour=%d", v.Hour)), gomponents.Text("Download xlsx")),
		),
	)
	return layout(nodes...)
}

func rawToggle(show bool) gomponents.Node {
	input := []gomponents.Node{
		html.Type("checkbox"),
		html.Name("show"),
		html.ID("show-raw"),
		gomponents.Attr("onchange", "this.form.submit()"),
	}
	if show {
		input = append(input, html.Checked())
	}
	return html.Form(
		html.Method("post"),
		html.Action("/raw"),
		html.Input(html.Type("hidden"), html.Name("show"), html.Value("false")),
		html.Input(input...),
		html.Label(html.For("show-raw"), gomponents.Text("Show raw data")),
		gomponents.El("noscript", html.Button(html.Type("submit"), gomponents.Text("Apply"))),
	)
}

func rawTable(t *dataset.Table, total int) gomponents.Node {
	records := t.Records()
	header := make([]gomponents.Node, 0, len(records[0]))
	for _, name := range records[0] {
		header = append(header, html.Th(gomponents.Text(name)))
	}

	rows := make([]gomponents.Node, 0, len(records)-1)
	for _, rec := range records[1:] {
		cells := make([]gomponents.Node, 0, len(rec))
		for _, v := range rec {
			cells = append(cells, html.Td(gomponents.Text(v)))
		}
		rows = append(rows, html.Tr(cells...))
	}

	return html.Div(
		html.Table(
			html.Class("raw"),
			html.THead(html.Tr(header...)),
			html.TBody(rows...),
		),
		html.P(html.Class("status"), gomponents.Text(fmt.Sprintf("%d of %d rows, %d columns", t.Nrow(), total, t.Ncol()))),
	)
}

func barChart(h processor.Histogram) gomponents.Node {
	top := h.Max()
	bars := make([]gomponents.Node, 0, processor.HoursPerDay)
	labels := make([]gomponents.Node, 0, processor.HoursPerDay)
	for hour, count := range h.Counts {
		pct := 0.0
		if top > 0 {
			pct = float64(count) / float64(top) * 100
		}
		bars = append(bars, html.Div(
			html.Class("bar"),
			html.Style(fmt.Sprintf("height: %.1f%%", pct)),
			html.Title(fmt.Sprintf("%d:00 %d", hour, count)),
		))
		labels = append(labels, html.Span(gomponents.Text(strconv.Itoa(hour))))
	}
	return html.Div(
		html.Div(append([]gomponents.Node{html.Class("chart")}, bars...)...),
		html.Div(append([]gomponents.Node{html.Class("axis")}, labels...)...),
	)
}

func hourSlider(hour int) gomponents.Node {
	value := strconv.Itoa(hour)
	return html.Form(
		html.Method("post"),
		html.Action("/hour"),
		html.Label(html.For("hour"), gomponents.Text("Select hour of pickup")),
		html.Input(
			html.Type("range"),
			html.Name("hour"),
			html.ID("hour"),
			gomponents.Attr("min", "0"),
			gomponents.Attr("max", "23"),
			gomponents.Attr("step", "1"),
			html.Value(value),
			gomponents.Attr("oninput", "this.nextElementSibling.value = this.value"),
			gomponents.Attr("onchange", "this.form.submit()"),
		),
		gomponents.El("output", gomponents.Text(value)),
		gomponents.El("noscript", html.Button(html.Type("submit"), gomponents.Text("Apply"))),
	)
}

func mapPanel(v app.View) gomponents.Node {
	if v.MapErr != nil && !errors.Is(v.MapErr, processor.ErrEmptySelection) {
		return html.P(html.Class("error"), gomponents.Text(v.MapErr.Error()))
	}

	payload, err := json.Marshal(v.Deck)
	if err != nil {
		return html.P(html.Class("error"), gomponents.Text(err.Error()))
	}

	nodes := []gomponents.Node{}
	if errors.Is(v.MapErr, processor.ErrEmptySelection) {
		nodes = append(nodes, html.P(html.Class("notice"), gomponents.Text(fmt.Sprintf("No pickups at %d:00", v.Hour))))
	}
	nodes = append(nodes,
		html.Div(html.ID("map"), gomponents.Attr("data-deck", string(payload))),
		html.Script(html.Src("https://unpkg.com/deck.gl@8.9.35/dist.min.js")),
		html.Script(gomponents.Raw(deckScript)),
	)
	return gomponents.Group(nodes)
}
